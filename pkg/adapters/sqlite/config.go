package sqlite

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DefaultBusyTimeout is the busy_timeout pragma applied when none is configured, in milliseconds.
const DefaultBusyTimeout = 5000

// Params holds SQLite-specific configuration.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	// BusyTimeout is how long a connection waits on a locked database, in milliseconds.
	BusyTimeout int `mapstructure:"busy_timeout"`

	// JournalMode sets the journal_mode pragma (e.g. "wal").
	JournalMode string `mapstructure:"journal_mode"`

	// ForeignKeys enables foreign key enforcement. Defaults to true.
	ForeignKeys *bool `mapstructure:"foreign_keys"`

	// TxLock selects the BEGIN mode: "deferred", "immediate" or "exclusive".
	TxLock string `mapstructure:"txlock"`

	// MaxOpenConns caps the pool size. In-memory databases always use one connection.
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

// ParseParams decodes raw target params into Params and applies defaults.
func ParseParams(raw map[string]any) (*Params, error) {
	params := &Params{}
	if len(raw) > 0 {
		if err := mapstructure.Decode(raw, params); err != nil {
			return nil, fmt.Errorf("invalid sqlite params: %w", err)
		}
	}

	if params.BusyTimeout == 0 {
		params.BusyTimeout = DefaultBusyTimeout
	}
	if params.ForeignKeys == nil {
		on := true
		params.ForeignKeys = &on
	}
	switch params.TxLock {
	case "", "deferred", "immediate", "exclusive":
	default:
		return nil, fmt.Errorf("invalid sqlite txlock %q: must be deferred, immediate or exclusive", params.TxLock)
	}
	return params, nil
}
