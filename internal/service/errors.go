package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/repo"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrPendingApproval     = errors.New("pending approval")
	ErrDuplicateUsername   = errors.New("duplicate username")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrBadCredential       = errors.New("bad credential")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

const KindInternal = "internal"

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrPendingApproval, "pending_approval"},
	{ErrDuplicateUsername, "duplicate_username"},
	{ErrInvalidInput, "invalid_input"},
	{ErrInvalidRole, "invalid_role"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrBadCredential, "bad_credential"},
	{ErrInvalidRefreshToken, "invalid_refresh_token"},
}

// KindOf returns the stable kind name of a domain error, or "internal".
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// gate runs the authorization predicate and translates its verdict.
func gate(a authz.Actor, action authz.Action, ownerID *uint) error {
	err := authz.Authorize(a, action, ownerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authz.ErrUnauthenticated):
		return fmt.Errorf("%w: %s requires login", ErrUnauthenticated, action)
	case errors.Is(err, authz.ErrPendingApproval):
		return fmt.Errorf("%w: account is awaiting approval", ErrPendingApproval)
	default:
		return fmt.Errorf("%w: %s not permitted", ErrUnauthorized, action)
	}
}

// preGate checks everything but ownership for owner-scoped actions, so
// anonymous, pending and wrong-role actors fail before any lookup.
func preGate(a authz.Actor, action authz.Action) error {
	id := a.ID
	return gate(a, action, &id)
}

func ownerCheck(a authz.Actor, action authz.Action) repo.ProductCheck {
	return func(p *models.Product) error {
		return gate(a, action, &p.MerchantID)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// translate maps storage errors onto the domain taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repo.ErrInsufficientStock):
		return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
	case errors.Is(err, repo.ErrEmptyCart):
		return fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%w: %s", ErrDuplicateUsername, what)
	case errors.Is(err, repo.ErrRefreshInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}
	return err
}

const publishTimeout = 5 * time.Second

// publish sends an event after the change has committed. Failures are
// logged and never reach the caller.
func publish(ctx context.Context, p events.Publisher, topic, key string, ev events.Event) {
	if p == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.Publish(pctx, topic, key, ev); err != nil {
		logging.FromContext(ctx).Warn("publish_failed", "topic", topic, "type", ev.Type, "error", err)
	}
}
