package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
)

type txKey struct{}

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFromContext returns the transaction started by TxManager, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Conn returns the active transaction or the handle itself. With a single
// pooled connection, every statement issued while a transaction is open must
// go through the transaction.
func Conn(ctx context.Context, d *DB) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return d.DB
}

// TxManager runs functions inside SQLite transactions.
type TxManager struct {
	db *DB
}

func NewTxManager(d *DB) *TxManager {
	return &TxManager{db: d}
}

func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
