package txn

import "context"

type bindingKey struct{}

// ContextScope carries transaction bindings inside a context.Context.
// Bindings are immutable values, so goroutines started with a derived
// context observe the transaction that was current when they were started.
type ContextScope struct {
	ctx context.Context
}

// InContext returns the scope carried by ctx.
func InContext(ctx context.Context) ContextScope {
	if ctx == nil {
		ctx = context.Background()
	}
	return ContextScope{ctx: ctx}
}

// FromContext returns the transaction most recently bound in ctx, or nil.
func FromContext(ctx context.Context) *Transaction {
	return InContext(ctx).latest()
}

// Context returns the underlying context, including any bindings.
func (c ContextScope) Context() context.Context { return c.ctx }

func (c ContextScope) top() *binding {
	b, _ := c.ctx.Value(bindingKey{}).(*binding)
	return b
}

func (c ContextScope) lookup(m *Manager) *Transaction { return c.top().lookup(m) }

func (c ContextScope) latest() *Transaction { return c.top().latest() }

// bind derives a new context. The parent context is never modified, so the
// restore function has nothing to undo.
func (c ContextScope) bind(m *Manager, tx *Transaction) (Scope, func()) {
	b := &binding{mgr: m, tx: tx, prev: c.top()}
	return ContextScope{ctx: context.WithValue(c.ctx, bindingKey{}, b)}, func() {}
}

// ExecContext runs fn inside a transaction bound to the context passed to fn.
func ExecContext(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error, opts ...Option) error {
	_, err := RunContext(ctx, func(ctx context.Context, tx *Transaction) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	}, opts...)
	return err
}

// RunContext runs fn inside a transaction and returns its result. fn
// receives a context carrying the binding; nested calls and goroutines
// must use that context to see the transaction.
func RunContext[T any](ctx context.Context, fn func(ctx context.Context, tx *Transaction) (T, error), opts ...Option) (T, error) {
	return run(InContext(ctx), func(s Scope, tx *Transaction) (T, error) {
		return fn(s.Context(), tx)
	}, opts...)
}
