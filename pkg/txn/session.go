package txn

import "context"

// Session is a blocking execution context owned by a single goroutine.
// Its binding is a mutable cell, so a Session must never be shared between
// goroutines. Use a context-bound scope for concurrent work.
type Session struct {
	ctx context.Context
	top *binding
}

// NewSession returns a Session whose operations use ctx.
func NewSession(ctx context.Context) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{ctx: ctx}
}

// Context returns the session's context.
func (s *Session) Context() context.Context { return s.ctx }

// Current returns the transaction bound most recently on s, or nil.
func (s *Session) Current() *Transaction { return s.top.latest() }

func (s *Session) lookup(m *Manager) *Transaction { return s.top.lookup(m) }

func (s *Session) latest() *Transaction { return s.top.latest() }

func (s *Session) bind(m *Manager, tx *Transaction) (Scope, func()) {
	prev := s.top
	s.top = &binding{mgr: m, tx: tx, prev: prev}
	return s, func() { s.top = prev }
}

// Exec runs fn inside a transaction bound to s.
func Exec(s *Session, fn func(tx *Transaction) error, opts ...Option) error {
	_, err := Run(s, func(tx *Transaction) (struct{}, error) {
		return struct{}{}, fn(tx)
	}, opts...)
	return err
}

// Run runs fn inside a transaction bound to s and returns its result.
// A call made while s already has a current transaction for the target
// database runs as a nested transaction.
func Run[T any](s *Session, fn func(tx *Transaction) (T, error), opts ...Option) (T, error) {
	return run(s, func(_ Scope, tx *Transaction) (T, error) {
		return fn(tx)
	}, opts...)
}
