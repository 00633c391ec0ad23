package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/AbhiTheModder/r2web/internal/errx"
	"github.com/AbhiTheModder/r2web/pkg/engine"
	"github.com/AbhiTheModder/r2web/pkg/session"
	"github.com/AbhiTheModder/r2web/pkg/wasmbin"
)

var runCmd = &cobra.Command{
	Use:   "run <binary>",
	Short: "Open a binary in radare2 on the local terminal",
	Long: `Run a radare2 session against the given binary without the web UI.
The module is fetched from the cache or downloaded on first use.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("version", wasmbin.Version, "radare2 module version to load")
	runCmd.Flags().String("cache-dir", "", "Module cache directory (default ~/.cache/r2web)")
	runCmd.Flags().Bool("persist", true, "Persist downloaded modules to the cache")
	runCmd.Flags().String("base-url", wasmbin.DefaultBaseURL, "Base URL for module downloads")
	runCmd.Flags().String("log-file", "", "Write JSON-L events to this file")

	viper.BindPFlag("run.version", runCmd.Flags().Lookup("version"))
	viper.BindPFlag("run.cache-dir", runCmd.Flags().Lookup("cache-dir"))
	viper.BindPFlag("run.persist", runCmd.Flags().Lookup("persist"))
	viper.BindPFlag("run.base-url", runCmd.Flags().Lookup("base-url"))
	viper.BindPFlag("run.log-file", runCmd.Flags().Lookup("log-file"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ErrRunNeedsTTY
	}

	ctx, cancel := contextWithSignal(cmd.Context())
	defer cancel()

	content, err := os.ReadFile(args[0])
	if err != nil {
		return errx.Wrap(ErrReadInput, err)
	}
	file := session.InputFile{Name: filepath.Base(args[0]), Content: content}

	cacheDir := viper.GetString("run.cache-dir")
	if cacheDir == "" {
		cacheDir = wasmbin.DefaultCacheDir()
	}

	emitter, err := buildEmitter("run", viper.GetString("run.log-file"))
	if err != nil {
		return err
	}
	if emitter != nil {
		defer emitter.Close()
	}

	store, err := wasmbin.OpenStore(cacheDir)
	if err != nil {
		return err
	}
	defer store.Close()

	runtime, err := engine.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer runtime.Close(context.Background())

	var mod *engine.Module
	mgr := wasmbin.NewManager(store,
		wasmbin.WithBaseURL(viper.GetString("run.base-url")),
		wasmbin.WithEmitter(emitter),
	)
	_, err = mgr.Ensure(ctx, viper.GetString("run.version"), viper.GetBool("run.persist"),
		func(ctx context.Context, wasm []byte) error {
			var loadErr error
			mod, loadErr = runtime.Load(ctx, wasm)
			return loadErr
		})
	if err != nil {
		return err
	}
	defer mod.Close(context.Background())

	sess := session.New(0, file, session.ModuleStarter(mod), session.WithEmitter(emitter))
	proc, err := sess.Start(ctx)
	if err != nil {
		return errx.Wrap(ErrRunModule, err)
	}
	wiring := session.NewWiring(0, os.Stdout, sess, session.WiringEmitter(emitter))

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return errx.Wrap(ErrSetRawMode, err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	wiring.Attach(proc)

	var procDone <-chan struct{}
	if waiter, ok := proc.(interface{ Done() <-chan struct{} }); ok {
		procDone = waiter.Done()
	}

	// Forward raw keystrokes until the process exits or the context
	// is cancelled. Ctrl+C is the in-band interrupt, Ctrl+D quits.
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		buf := make([]byte, 1024)
		for {
			n, readErr := os.Stdin.Read(buf)
			if n > 0 {
				keys := buf[:n]
				if n == 1 && keys[0] == 0x04 {
					return
				}
				wiring.HandleKey(keys)
			}
			if readErr != nil {
				return
			}
		}
	}()

	select {
	case <-procDone:
	case <-inputDone:
	case <-ctx.Done():
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := sess.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "\nwarning: close session: %v\n", err)
	}
	return nil
}
