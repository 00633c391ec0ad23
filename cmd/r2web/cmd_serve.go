package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AbhiTheModder/r2web/internal/errx"
	"github.com/AbhiTheModder/r2web/pkg/logging"
	"github.com/AbhiTheModder/r2web/pkg/wasmbin"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the r2web HTTP server",
	Long: `Start the web UI server. The browser talks to radare2 sessions over
websockets; binaries open in tabs backed by isolated WASI processes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "Host interface to bind")
	serveCmd.Flags().Int("port", 8222, "Port to listen on")
	serveCmd.Flags().String("version", wasmbin.Version, "radare2 module version to load")
	serveCmd.Flags().String("cache-dir", "", "Module cache directory (default ~/.cache/r2web)")
	serveCmd.Flags().Bool("persist", true, "Persist downloaded modules to the cache")
	serveCmd.Flags().String("source", "http", "Module source: http or oci")
	serveCmd.Flags().String("base-url", wasmbin.DefaultBaseURL, "Base URL for module downloads")
	serveCmd.Flags().String("registry", wasmbin.DefaultRegistry, "OCI registry for module pulls")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "Grace period for draining sessions")
	serveCmd.Flags().Duration("export-timeout", 30*time.Second, "How long to wait for an exported binary")
	serveCmd.Flags().String("log-file", "", "Write JSON-L events to this file")

	viper.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("serve.version", serveCmd.Flags().Lookup("version"))
	viper.BindPFlag("serve.cache-dir", serveCmd.Flags().Lookup("cache-dir"))
	viper.BindPFlag("serve.persist", serveCmd.Flags().Lookup("persist"))
	viper.BindPFlag("serve.source", serveCmd.Flags().Lookup("source"))
	viper.BindPFlag("serve.base-url", serveCmd.Flags().Lookup("base-url"))
	viper.BindPFlag("serve.registry", serveCmd.Flags().Lookup("registry"))
	viper.BindPFlag("serve.shutdown-timeout", serveCmd.Flags().Lookup("shutdown-timeout"))
	viper.BindPFlag("serve.export-timeout", serveCmd.Flags().Lookup("export-timeout"))
	viper.BindPFlag("serve.log-file", serveCmd.Flags().Lookup("log-file"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithSignal(cmd.Context())
	defer cancel()

	source := viper.GetString("serve.source")
	if source != "http" && source != "oci" {
		return errx.With(ErrUIInvalidRequest, ": source must be http or oci")
	}

	cacheDir := viper.GetString("serve.cache-dir")
	if cacheDir == "" {
		cacheDir = wasmbin.DefaultCacheDir()
	}

	emitter, err := buildEmitter("serve", viper.GetString("serve.log-file"))
	if err != nil {
		return err
	}
	if emitter != nil {
		defer emitter.Close()
	}

	cfg := uiServerConfig{
		cacheDir:        cacheDir,
		baseURL:         viper.GetString("serve.base-url"),
		registry:        viper.GetString("serve.registry"),
		source:          source,
		defaultVersion:  viper.GetString("serve.version"),
		persist:         viper.GetBool("serve.persist"),
		shutdownTimeout: viper.GetDuration("serve.shutdown-timeout"),
		exportTimeout:   viper.GetDuration("serve.export-timeout"),
		emitter:         emitter,
	}

	server, err := newUIServer(ctx, cfg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(viper.GetString("serve.host"), strconv.Itoa(viper.GetInt("serve.port")))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("r2web listening on http://%s\n", addr)
	serveErr := httpServer.ListenAndServe()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer closeCancel()
	if err := server.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: shutdown: %v\n", err)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return errx.Wrap(ErrUIStartServer, serveErr)
	}
	return nil
}

// buildEmitter wires a JSON-L sink when a log file is configured.
// Without one, event emission is a no-op.
func buildEmitter(origin, logFile string) (*logging.Emitter, error) {
	if logFile == "" {
		return nil, nil
	}
	sink, err := logging.NewJSONLWriter(logFile)
	if err != nil {
		return nil, errx.Wrap(ErrOpenLog, err)
	}
	return logging.NewEmitter(logging.EmitterConfig{
		RunID:  uuid.New().String(),
		Origin: origin,
	}, sink), nil
}
