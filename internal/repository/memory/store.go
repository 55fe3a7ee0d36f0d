// internal/repository/memory/store.go
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"
	"paygate/pkg/db"
)

var errNoSQL = errors.New("memory: SQL statements are not supported")

// Store is an in-process stand-in for the relational store.
// A transaction holds the store lock for its whole lifetime, so transactions are serializable.
// Calls made directly on the Store outside a transaction lock it per call.
type Store struct {
	sem chan struct{}

	users        map[int64]*domain.User
	identities   map[string]int64
	transactions map[int64]*domain.Transaction
	audit        []domain.AuditEntry
	whitelist    map[int64]*domain.WhitelistEntry
	settings     map[string]*domain.Setting

	nextUser      int64
	nextTx        int64
	nextWhitelist int64

	faultsMu sync.Mutex
	faults   map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sem:          make(chan struct{}, 1),
		users:        make(map[int64]*domain.User),
		identities:   make(map[string]int64),
		transactions: make(map[int64]*domain.Transaction),
		whitelist:    make(map[int64]*domain.WhitelistEntry),
		settings:     make(map[string]*domain.Setting),
		faults:       make(map[string]error),
	}
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() { <-s.sem }

// FailNext makes the next call of op (e.g. "transactions.UpdateStatus") fail with err.
// It simulates a store failure in the middle of a unit of work.
func (s *Store) FailNext(op string, err error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[op] = err
}

func (s *Store) takeFault(op string) error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

// Begin starts a transaction, waiting for any other transaction to finish.
func (s *Store) Begin(ctx context.Context) (db.TxController, error) {
	if err := s.lock(ctx); err != nil {
		return nil, fmt.Errorf("memory: begin: %w", err)
	}
	return &Tx{store: s}, nil
}

// GetContext is part of repository.DBExecutor; the memory repositories never issue SQL.
func (s *Store) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

// SelectContext is part of repository.DBExecutor.
func (s *Store) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

// ExecContext is part of repository.DBExecutor.
func (s *Store) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}

// QueryRowContext is part of repository.DBExecutor. It always returns nil.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

// Tx is a memory transaction. Writes apply immediately and are undone on Rollback.
type Tx struct {
	store *Store
	undo  undoLog
	done  bool
}

// Commit releases the store lock and keeps all writes.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.undo = nil
	t.store.unlock()
	return nil
}

// Rollback reverts the transaction's writes in reverse order and releases the store lock.
func (t *Tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.unlock()
	return nil
}

// GetContext is part of repository.DBExecutor.
func (t *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

// SelectContext is part of repository.DBExecutor.
func (t *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

// ExecContext is part of repository.DBExecutor.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}

// QueryRowContext is part of repository.DBExecutor. It always returns nil.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

type undoLog []func()

func (u *undoLog) push(f func()) {
	if u == nil {
		return
	}
	*u = append(*u, f)
}

// access runs fn against the store behind q. u is nil outside a transaction.
func access(ctx context.Context, q repository.DBExecutor, op string, fn func(s *Store, u *undoLog) error) error {
	var (
		s *Store
		u *undoLog
	)
	switch v := q.(type) {
	case *Tx:
		if v.done {
			return sql.ErrTxDone
		}
		s, u = v.store, &v.undo
	case *Store:
		if err := v.lock(ctx); err != nil {
			return err
		}
		defer v.unlock()
		s = v
	default:
		return fmt.Errorf("memory: unsupported executor %T", q)
	}
	if err := s.takeFault(op); err != nil {
		return util.Persistence(op, err)
	}
	return fn(s, u)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
