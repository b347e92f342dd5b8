package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frankawp/data-agent/internal/api"
)

var (
	serveAddr string
	noCORS    bool
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/SSE/WebSocket API server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", ":8000", "listen address")
	cmd.Flags().BoolVar(&noCORS, "no-cors", false, "disable permissive CORS")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(homeDirFlag, configFlag, verboseFlag)
	if err != nil {
		return fmt.Errorf("data-agent: initialization failed: %w", err)
	}

	cfg := api.DefaultConfig()
	cfg.Addr = serveAddr
	cfg.EnableCORS = !noCORS

	srv := api.New(cfg, a.runtime, a.sessions, a.modes, a.agents, a.bus,
		api.WithLogger(a.log),
		api.WithFileConfig(api.DefaultFileConfig()),
	)

	errCh := make(chan error, 1)
	go func() {
		fmt.Println("data-agent: listening on", serveAddr)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("data-agent: server failed: %w", err)
		}
		return nil
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
