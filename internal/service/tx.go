// internal/service/tx.go
package service

import (
	"context"
	"fmt"

	"paygate/internal/repository"
	"paygate/internal/util"
	"paygate/pkg/db"
)

// TxRunner runs units of work inside a database transaction.
type TxRunner struct {
	beginTx    db.BeginTxFunc    // Injected dependency for beginning transactions
	commitTx   db.CommitTxFunc   // Injected dependency for committing transactions
	rollbackTx db.RollbackTxFunc // Injected dependency for rolling back transactions
}

// NewTxRunner creates a TxRunner from injected transaction functions.
func NewTxRunner(beginTx db.BeginTxFunc, commitTx db.CommitTxFunc, rollbackTx db.RollbackTxFunc) *TxRunner {
	return &TxRunner{beginTx: beginTx, commitTx: commitTx, rollbackTx: rollbackTx}
}

// InTx calls fn with a transactional executor and commits if fn succeeds.
// Any error from fn rolls the whole unit back.
func (r *TxRunner) InTx(ctx context.Context, op string, fn func(q repository.DBExecutor) error) error {
	txController, err := r.beginTx(ctx)
	if err != nil {
		return util.Persistence(op+": failed to begin transaction", err)
	}
	defer r.rollbackTx(txController)

	txExecutor, ok := txController.(repository.DBExecutor)
	if !ok {
		return fmt.Errorf("%s: transaction controller does not implement DBExecutor", op)
	}

	if err := fn(txExecutor); err != nil {
		return err
	}

	if err := r.commitTx(txController); err != nil {
		return util.Persistence(op+": failed to commit transaction", err)
	}
	return nil
}
