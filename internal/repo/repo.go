package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/marketplace/internal/db"
	"github.com/Skotchmaster/marketplace/internal/logging"
)

var (
	ErrDuplicate         = errors.New("duplicate")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrRefreshInvalid    = errors.New("refresh token expired or revoked")
)

const (
	maxTxAttempts = 3
	retryBackoff  = 20 * time.Millisecond
)

type GormRepo struct {
	DB *gorm.DB
}

func New(gdb *gorm.DB) *GormRepo {
	return &GormRepo{DB: gdb}
}

// inTx runs fn in a transaction, retrying a bounded number of times on
// serialization failures and deadlocks. fn must only use tx.
func (r *GormRepo) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.DB.WithContext(ctx).Transaction(fn)
		if err == nil || !db.IsRetryable(err) {
			return err
		}
		logging.FromContext(ctx).Warn("tx_retry", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

// Ping checks the database connection.
func (r *GormRepo) Ping(ctx context.Context) error {
	return db.Ping(ctx, r.DB)
}
