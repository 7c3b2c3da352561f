package postgres

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds PostgreSQL-specific configuration.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	// ApplicationName is reported in pg_stat_activity.
	ApplicationName string `mapstructure:"application_name"`

	// StatementTimeout is passed as the statement_timeout runtime parameter (e.g. "5s").
	StatementTimeout string `mapstructure:"statement_timeout"`

	// LockTimeout is passed as the lock_timeout runtime parameter.
	LockTimeout string `mapstructure:"lock_timeout"`

	// MaxOpenConns caps the pool size. Zero means unlimited.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns caps idle connections kept in the pool.
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// ParseParams decodes raw target params into Params.
func ParseParams(raw map[string]any) (*Params, error) {
	params := &Params{}
	if len(raw) == 0 {
		return params, nil
	}
	if err := mapstructure.Decode(raw, params); err != nil {
		return nil, fmt.Errorf("invalid postgres params: %w", err)
	}
	return params, nil
}
