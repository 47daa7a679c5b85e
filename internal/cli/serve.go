package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/marketplace/internal/httpserver"
	mw "github.com/Skotchmaster/marketplace/internal/middleware"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	cfg := opts.config()
	if err := cfg.RequireServe(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	l := newLogger(cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(withLogger(ctx, l), 10*time.Second)
	st, err := openStack(initCtx, cfg, l)
	cancel()
	if err != nil {
		return err
	}
	defer st.Close()

	e := httpserver.New(l, &httpserver.Deps{
		Auth:     &httpserver.AuthHTTP{Svc: st.identity, CookieSecure: cfg.CookieSecure},
		Catalog:  &httpserver.CatalogHTTP{Svc: st.catalog},
		Merchant: &httpserver.MerchantHTTP{Catalog: st.catalog, Orders: st.orders},
		Cart:     &httpserver.CartHTTP{Svc: st.cart},
		Orders:   &httpserver.OrderHTTP{Svc: st.orders},
		Admin:    &httpserver.AdminHTTP{Identity: st.identity, Catalog: st.catalog, Orders: st.orders},
		Session:  &mw.Session{Tokens: st.issuer, Identity: st.identity, Secure: cfg.CookieSecure},
		Metrics:  st.metrics,
		Ready:    st.repo.Ping,

		CSRF:         cfg.CSRFEnabled,
		CookieSecure: cfg.CookieSecure,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("http_listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	l.Info("shutting_down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("server_shutdown_error", "error", err)
	}
	l.Info("shutdown_complete")
	return nil
}
