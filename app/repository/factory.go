package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store is the transaction boundary of the durable queue. Pipelines mutate
// state only inside InTx; dashboards read through Read.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over an opened database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InTx runs fn in one transaction with repositories bound to it. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(r *Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// Read returns repositories for read-only queries
func (s *Store) Read(ctx context.Context) *Repositories {
	return NewRepositories(s.db.WithContext(ctx))
}

// DB exposes the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}
