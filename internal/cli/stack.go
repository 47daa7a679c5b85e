package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gorm.io/gorm"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/config"
	"github.com/Skotchmaster/marketplace/internal/db"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/metrics"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/repo"
	"github.com/Skotchmaster/marketplace/internal/search"
	"github.com/Skotchmaster/marketplace/internal/service"
	"github.com/Skotchmaster/marketplace/internal/tokens"
)

// stack is the set of long-lived dependencies a command runs against.
type stack struct {
	cfg     config.Config
	log     *slog.Logger
	db      *gorm.DB
	repo    *repo.GormRepo
	events  events.Publisher
	metrics *metrics.Metrics
	issuer  *tokens.Issuer

	identity *service.IdentityService
	catalog  *service.CatalogService
	cart     *service.CartService
	orders   *service.OrderService
}

// openStack connects the database, runs migrations and builds the services.
// Kafka and Elasticsearch are attached only when configured.
func openStack(ctx context.Context, cfg config.Config, out *slog.Logger) (*stack, error) {
	gdb, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		_ = db.Close(gdb)
		return nil, err
	}

	s := &stack{
		cfg:     cfg,
		log:     out,
		db:      gdb,
		repo:    repo.New(gdb),
		events:  events.New(cfg.KafkaBrokers, out),
		metrics: metrics.New(),
		issuer: &tokens.Issuer{
			AccessSecret:  cfg.JWTAccessSecret,
			RefreshSecret: cfg.JWTRefreshSecret,
			AccessTTL:     cfg.AccessTTL,
			RefreshTTL:    cfg.RefreshTTL,
		},
	}

	s.identity = &service.IdentityService{Repo: s.repo, Tokens: s.issuer, Events: s.events, Metrics: s.metrics}
	s.catalog = &service.CatalogService{Repo: s.repo, Events: s.events}
	s.cart = &service.CartService{Repo: s.repo, Events: s.events, Metrics: s.metrics}
	s.orders = &service.OrderService{Repo: s.repo, Events: s.events, Metrics: s.metrics}

	if cfg.ESURL != "" {
		es, err := search.NewClient(ctx, search.Config{
			URL:      cfg.ESURL,
			User:     cfg.ESUser,
			Password: cfg.ESPassword,
			Index:    cfg.ESIndex,
		})
		if err != nil {
			out.Warn("search_unavailable", "url", cfg.ESURL, "error", err)
		} else {
			idx := search.NewESIndex(es, cfg.ESIndex)
			s.catalog.Index = idx
			s.identity.Index = idx
		}
	}

	return s, nil
}

func (s *stack) Close() {
	if err := s.events.Close(); err != nil {
		s.log.Error("events_close_error", "error", err)
	}
	if err := db.Close(s.db); err != nil {
		s.log.Error("db_close_error", "error", err)
	}
}

// adminActor resolves username to an administrator actor for maintenance
// commands.
func (s *stack) adminActor(ctx context.Context, username string) (authz.Actor, error) {
	a, err := s.identity.ResolveActorByUsername(ctx, username)
	if err != nil {
		return authz.Actor{}, fmt.Errorf("resolve admin %q: %w", username, err)
	}
	if a.Role != models.RoleAdministrator {
		return authz.Actor{}, fmt.Errorf("%q is a %s, not an administrator", username, a.Role)
	}
	return a, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return logging.NewWithWriter(w, cfg.LogLevel).With("service", cfg.ServiceName)
}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return logging.IntoContext(ctx, l)
}

func requireDB(cfg config.Config) error {
	if err := cfg.RequireDB(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
