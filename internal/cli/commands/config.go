package commands

import (
	"strings"

	"github.com/leapstack-labs/leaptx/internal/cli/config"
	"github.com/leapstack-labs/leaptx/internal/cli/output"
	"github.com/leapstack-labs/leaptx/pkg/adapter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutDatabase(cmd)
			return showConfig(cmdCtx.Renderer, cmdCtx.Cfg)
		},
	})
	return cmd
}

func showConfig(r *output.Renderer, cfg *config.Config) error {
	redacted := cfg.Redacted()
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(redacted)
	}

	data, err := yaml.Marshal(redacted)
	if err != nil {
		return err
	}
	if file := config.GetConfigFileUsed(); file != "" {
		r.Printf("# loaded from %s\n", file)
	}
	r.Printf("# adapters: %s\n", strings.Join(adapter.Capabilities(), ", "))
	r.Printf("%s", data)
	return nil
}
