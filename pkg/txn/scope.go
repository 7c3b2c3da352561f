package txn

import "context"

// Scope is an execution context to which at most one current transaction per
// Manager is bound. It is implemented by *Session and ContextScope.
type Scope interface {
	// Context returns the context used for connection acquisition,
	// statements and retry waits.
	Context() context.Context

	lookup(m *Manager) *Transaction
	latest() *Transaction
	bind(m *Manager, tx *Transaction) (Scope, func())
}

// binding is one entry of a scope's binding chain. A nil tx clears the
// binding for mgr without touching bindings of other managers.
type binding struct {
	mgr  *Manager
	tx   *Transaction
	prev *binding
}

func (b *binding) lookup(m *Manager) *Transaction {
	for x := b; x != nil; x = x.prev {
		if x.mgr == m {
			return x.tx
		}
	}
	return nil
}

// latest returns the most recently bound transaction that is still current
// for its manager.
func (b *binding) latest() *Transaction {
	var seen []*Manager
	for x := b; x != nil; x = x.prev {
		shadowed := false
		for _, m := range seen {
			if m == x.mgr {
				shadowed = true
				break
			}
		}
		if shadowed {
			continue
		}
		if x.tx != nil {
			return x.tx
		}
		seen = append(seen, x.mgr)
	}
	return nil
}
