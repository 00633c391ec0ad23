package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AbhiTheModder/r2web/pkg/wasmbin"
)

var pullCmd = &cobra.Command{
	Use:   "pull [version]",
	Short: "Pull a radare2 module from an OCI registry into the cache",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPull,
}

func init() {
	pullCmd.Flags().String("registry", wasmbin.DefaultRegistry, "OCI registry to pull from")
	pullCmd.Flags().String("cache-dir", "", "Module cache directory (default ~/.cache/r2web)")

	viper.BindPFlag("pull.registry", pullCmd.Flags().Lookup("registry"))
	viper.BindPFlag("pull.cache-dir", pullCmd.Flags().Lookup("cache-dir"))

	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	version := wasmbin.Version
	if len(args) > 0 {
		version = args[0]
	}
	registry := viper.GetString("pull.registry")

	cacheDir := viper.GetString("pull.cache-dir")
	if cacheDir == "" {
		cacheDir = wasmbin.DefaultCacheDir()
	}

	store, err := wasmbin.OpenStore(cacheDir)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := wasmbin.NewManager(store, wasmbin.WithRegistry(registry))

	fmt.Printf("pulling %s\n", wasmbin.ImageReference(registry, version))
	wasm, err := mgr.Pull(cmd.Context(), version, true, nil)
	if err != nil {
		return err
	}

	fmt.Printf("cached %s (%s)\n", version, formatSize(int64(len(wasm))))
	return nil
}
