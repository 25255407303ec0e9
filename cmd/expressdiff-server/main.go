// Command expressdiff-server runs the ExpressDiff run/stage controller's
// HTTP surface. Grounded on cmd/kilroy/main.go + attractor_serve.go's
// flag-parsing "serve" subcommand shape, trimmed to the one subcommand
// this system has.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stevenzev/expressdiff/internal/config"
	"github.com/stevenzev/expressdiff/internal/controller"
	"github.com/stevenzev/expressdiff/internal/httpapi"
	"github.com/stevenzev/expressdiff/internal/scheduler"
	"github.com/stevenzev/expressdiff/internal/store"
	"github.com/stevenzev/expressdiff/internal/template"
	"github.com/stevenzev/expressdiff/internal/validator"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("expressdiff-server %s\n", version)
		os.Exit(0)
	case "serve":
		serve(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  expressdiff-server --version")
	fmt.Fprintln(os.Stderr, "  expressdiff-server serve [--addr <host:port>] [--install-dir <dir>]")
}

func serve(args []string) {
	addr := "127.0.0.1:8080"
	installFallback := ""

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		case "--install-dir":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--install-dir requires a value")
				os.Exit(1)
			}
			installFallback = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg, err := config.Resolve(config.DefaultEnv(), installFallback)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "[expressdiff] ", log.LstdFlags)

	st := store.New(cfg)
	v := validator.New(cfg)
	tmpl := template.New(cfg)
	sched := scheduler.New(cfg).SetLogger(logger)
	ctrl := controller.New(cfg, st, v, tmpl, sched).SetLogger(logger)

	srv := httpapi.New(httpapi.Config{Addr: addr}, ctrl, cfg, version, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received %s, shutting down...\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
