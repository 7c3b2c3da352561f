package txn

import (
	"context"
	"fmt"
	"strconv"
)

// savepointName derives the savepoint name from the nesting depth. The first
// nested transaction has depth 0.
func savepointName(prefix string, t *Transaction) string {
	depth := -1
	for o := t.outer; o != nil; o = o.outer {
		depth++
	}
	return prefix + "_savepoint_" + strconv.Itoa(depth)
}

// openSavepoint creates the savepoint of a nested transaction on the shared
// connection, acquiring the connection if the outer transaction has not
// used it yet.
func (t *Transaction) openSavepoint(ctx context.Context) error {
	unlock := t.lockConn()
	defer unlock()

	conn, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	name := savepointName(t.db.config.SavepointPrefix, t)
	sp, err := conn.SetSavepoint(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to open nested transaction: %w", err)
	}
	t.savepoint = sp
	t.savepointName = name
	t.logger.Debug("savepoint created", "savepoint", name)
	return nil
}

// resetSavepoint releases the savepoint, or rolls back to it when rollback is
// set, and creates it again with the same name so the transaction keeps
// accepting statements. Only nested transactions own a savepoint. The caller
// must hold the connection lock.
func (t *Transaction) resetSavepoint(ctx context.Context, rollback bool) error {
	if t.savepoint == nil {
		return fmt.Errorf("savepoint %s is not open", t.savepointName)
	}
	conn := t.root().conn
	if rollback {
		if err := conn.RollbackTo(ctx, t.savepoint); err != nil {
			return err
		}
	} else {
		if err := conn.ReleaseSavepoint(ctx, t.savepoint); err != nil {
			return err
		}
	}
	t.savepoint = nil

	sp, err := conn.SetSavepoint(ctx, t.savepointName)
	if err != nil {
		return fmt.Errorf("failed to re-create savepoint %s: %w", t.savepointName, err)
	}
	t.savepoint = sp
	return nil
}
