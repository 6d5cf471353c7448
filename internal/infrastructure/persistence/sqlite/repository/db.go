package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"marketbot/internal/ports"
)

type base struct {
	db *gorm.DB
}

func (b base) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return b.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

// inTx runs fn on the caller's transaction when ctx carries one, else opens one.
func (b base) inTx(ctx context.Context, fn func(ctx context.Context, db *gorm.DB) error) error {
	if ports.TxFromContext(ctx) != nil {
		db, err := b.dbFromContext(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, db)
	}

	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := ports.WithTxContext(ctx, tx)
		return fn(txCtx, tx.WithContext(txCtx))
	})
}
