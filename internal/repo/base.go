package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base binds a repository to a gorm handle, either the pool or an open
// transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the handle bound to ctx. A nil ctx returns the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Model starts a statement against model's table.
func (b Base) Model(ctx context.Context, model any) *gorm.DB {
	return b.DB(ctx).Model(model)
}

// WithTx rebinds the repository to tx. A nil tx keeps the current handle.
func (b Base) WithTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}
