package txn

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Interceptor observes commits and rollbacks.
//
// BeforeCommit may veto a commit by returning an error; the block then fails
// with that error and the transaction is rolled back. The other hooks only
// observe.
type Interceptor interface {
	BeforeCommit(ctx context.Context, tx *Transaction) error
	AfterCommit(ctx context.Context, tx *Transaction)
	BeforeRollback(ctx context.Context, tx *Transaction)
	AfterRollback(ctx context.Context, tx *Transaction)
}

// UserDataKeeper is implemented by interceptors that carry user data across
// a commit. The returned entries are restored after the user data has been
// cleared and every AfterCommit hook has run.
type UserDataKeeper interface {
	KeepOnCommit(tx *Transaction, data map[any]any) map[any]any
}

// StatementInterceptor is implemented by interceptors that observe
// individual statements. The hooks run while the connection is locked and
// must not issue statements on tx.
type StatementInterceptor interface {
	BeforeExecution(ctx context.Context, tx *Transaction, query string)
	AfterExecution(ctx context.Context, tx *Transaction, query string, elapsed time.Duration, err error)
}

// InterceptorFuncs adapts plain functions to the interceptor interfaces.
// Nil fields are skipped. Register it by pointer so it can be unregistered.
type InterceptorFuncs struct {
	BeforeCommitFunc    func(ctx context.Context, tx *Transaction) error
	AfterCommitFunc     func(ctx context.Context, tx *Transaction)
	BeforeRollbackFunc  func(ctx context.Context, tx *Transaction)
	AfterRollbackFunc   func(ctx context.Context, tx *Transaction)
	KeepOnCommitFunc    func(tx *Transaction, data map[any]any) map[any]any
	BeforeExecutionFunc func(ctx context.Context, tx *Transaction, query string)
	AfterExecutionFunc  func(ctx context.Context, tx *Transaction, query string, elapsed time.Duration, err error)
}

func (f *InterceptorFuncs) BeforeCommit(ctx context.Context, tx *Transaction) error {
	if f.BeforeCommitFunc == nil {
		return nil
	}
	return f.BeforeCommitFunc(ctx, tx)
}

func (f *InterceptorFuncs) AfterCommit(ctx context.Context, tx *Transaction) {
	if f.AfterCommitFunc != nil {
		f.AfterCommitFunc(ctx, tx)
	}
}

func (f *InterceptorFuncs) BeforeRollback(ctx context.Context, tx *Transaction) {
	if f.BeforeRollbackFunc != nil {
		f.BeforeRollbackFunc(ctx, tx)
	}
}

func (f *InterceptorFuncs) AfterRollback(ctx context.Context, tx *Transaction) {
	if f.AfterRollbackFunc != nil {
		f.AfterRollbackFunc(ctx, tx)
	}
}

func (f *InterceptorFuncs) KeepOnCommit(tx *Transaction, data map[any]any) map[any]any {
	if f.KeepOnCommitFunc == nil {
		return nil
	}
	return f.KeepOnCommitFunc(tx, data)
}

func (f *InterceptorFuncs) BeforeExecution(ctx context.Context, tx *Transaction, query string) {
	if f.BeforeExecutionFunc != nil {
		f.BeforeExecutionFunc(ctx, tx, query)
	}
}

func (f *InterceptorFuncs) AfterExecution(ctx context.Context, tx *Transaction, query string, elapsed time.Duration, err error) {
	if f.AfterExecutionFunc != nil {
		f.AfterExecutionFunc(ctx, tx, query, elapsed, err)
	}
}

var (
	interceptorMu      sync.Mutex
	globalInterceptors []Interceptor
)

// RegisterInterceptor adds an interceptor that applies to every transaction.
func RegisterInterceptor(i Interceptor) {
	interceptorMu.Lock()
	defer interceptorMu.Unlock()
	globalInterceptors = append(globalInterceptors, i)
}

// UnregisterInterceptor removes a global interceptor. Interceptors are
// compared with ==, so i must be of a comparable type.
func UnregisterInterceptor(i Interceptor) {
	interceptorMu.Lock()
	defer interceptorMu.Unlock()
	globalInterceptors = slices.DeleteFunc(globalInterceptors, func(x Interceptor) bool { return x == i })
}

func globalInterceptorList() []Interceptor {
	interceptorMu.Lock()
	defer interceptorMu.Unlock()
	return slices.Clone(globalInterceptors)
}

var (
	_ Interceptor          = (*InterceptorFuncs)(nil)
	_ UserDataKeeper       = (*InterceptorFuncs)(nil)
	_ StatementInterceptor = (*InterceptorFuncs)(nil)
)
