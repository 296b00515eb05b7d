// Command broker runs a standalone WAMP v2 Basic-Profile router: it loads a
// TOML configuration, starts the WebSocket transport and the admin HTTP
// surface, and serves until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wampcore/broker/logger"
	"github.com/wampcore/broker/router"
	"github.com/wampcore/broker/transport"
	"github.com/wampcore/broker/wamp"
)

var buildVersion = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "broker",
		Short: "A WAMP v2 Basic-Profile router",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildVersion)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	var useLogrus bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load a router configuration and start serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, useLogrus)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML router configuration file (required)")
	cmd.Flags().BoolVar(&useLogrus, "json-logs", false, "use structured (logrus) logging instead of the plain stdlib logger")
	cmd.MarkFlagRequired("config")
	return cmd
}

func serve(configPath string, useLogrus bool) error {
	cfg := router.MustLoadConfig(configPath)
	if useLogrus || cfg.LogFormat == "json" {
		router.SetLogger(logger.NewLogrus())
	}

	r := router.NewRouter(cfg)

	for i := range cfg.Realms {
		cfg.Realms[i].StrictURI = cfg.StrictURIValidation()
		if _, err := r.AddRealm(&cfg.Realms[i]); err != nil {
			return fmt.Errorf("add realm %s: %w", cfg.Realms[i].URI, err)
		}
	}
	if len(cfg.Realms) == 0 && cfg.DefaultRealm != "" {
		if _, err := r.AddRealm(&router.RealmConfig{
			URI:       wamp.URI(cfg.DefaultRealm),
			StrictURI: cfg.StrictURIValidation(),
		}); err != nil {
			return fmt.Errorf("add default realm: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.Handler(func(peer wamp.Peer) {
		if err := r.Attach(peer); err != nil {
			router.Logger().Print("attach failed: ", err)
		}
	}))
	mux.Handle("/", r.AdminHandler())

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		router.Logger().Print("listening on ", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	r.Close()
	return nil
}
