package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AbhiTheModder/r2web/internal/errx"
	"github.com/AbhiTheModder/r2web/pkg/wasmbin"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the module cache",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached radare2 modules",
	RunE:  runCacheLs,
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm <version>",
	Short: "Remove one cached module",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheRm,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove all cached modules",
	RunE:  runCachePrune,
}

func init() {
	cacheCmd.PersistentFlags().String("cache-dir", "", "Module cache directory (default ~/.cache/r2web)")
	viper.BindPFlag("cache.cache-dir", cacheCmd.PersistentFlags().Lookup("cache-dir"))

	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheRmCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCacheStore() (*wasmbin.Store, error) {
	cacheDir := viper.GetString("cache.cache-dir")
	if cacheDir == "" {
		cacheDir = wasmbin.DefaultCacheDir()
	}
	store, err := wasmbin.OpenStore(cacheDir)
	if err != nil {
		return nil, errx.Wrap(ErrCacheOpen, err)
	}
	return store, nil
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	store, err := openCacheStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSIZE\tSHA256\tSOURCE\tCREATED")
	for _, e := range entries {
		digest := e.SHA256
		if len(digest) > 12 {
			digest = digest[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Version, formatSize(e.Size), digest, e.Source,
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runCacheRm(cmd *cobra.Command, args []string) error {
	store, err := openCacheStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", args[0])
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	store, err := openCacheStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := store.Delete(e.Version); err != nil {
			return errx.Wrap(ErrCachePrune, err)
		}
	}
	fmt.Printf("removed %d module(s)\n", len(entries))
	return nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
