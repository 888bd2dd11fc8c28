package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/samber/do"
	"github.com/spf13/pflag"

	"github.com/example/campus-facilities/internal/bootstrap"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintln(os.Stderr, "campusd:", err)
		os.Exit(1)
	}
}

// run parses flags, builds the container and serves until ctx is cancelled.
// When ready is not nil it receives the bound address once listening.
func run(ctx context.Context, args []string, stdout io.Writer, ready chan<- string) error {
	flags := pflag.NewFlagSet("campusd", pflag.ContinueOnError)
	flags.SetOutput(stdout)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file (CAMPUS_* variables take precedence)")
	migrateOnly := flags.Bool("migrate-only", false, "apply storage migrations and exit")
	listen := flags.String("listen", "", "override the listen address, e.g. 127.0.0.1:0")
	showVersion := flags.BoolP("version", "v", false, "print the version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		_, err := fmt.Fprintf(stdout, "%s %s\n", bootstrap.ServiceName, version)
		return err
	}

	inj := bootstrap.BuildContainer(bootstrap.Options{
		ConfigPath: *configPath,
		Version:    version,
		LogOutput:  stdout,
	})

	if *migrateOnly {
		backend, err := do.Invoke[*bootstrap.Backend](inj)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		do.MustInvoke[*slog.Logger](inj).Info("migrations applied", "driver", backend.Driver)
		return inj.Shutdown()
	}

	app, err := bootstrap.NewApp(inj)
	if err != nil {
		return err
	}
	logger := app.Logger

	addr := *listen
	if addr == "" {
		addr = ":" + strconv.Itoa(app.Config.HTTPPort)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = app.Shutdown(context.Background())
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	logger.Info("campus facilities API listening", "addr", listener.Addr().String(), "version", version)
	if ready != nil {
		ready <- listener.Addr().String()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server encountered error", "error", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to shutdown server", "error", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to release resources", "error", err)
		runErr = errors.Join(runErr, err)
	}
	logger.Info("campus facilities API stopped")
	return runErr
}
