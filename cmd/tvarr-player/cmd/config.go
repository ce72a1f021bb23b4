package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tvarr-player/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to a file to create a configuration template:

  tvarr-player config dump > .tvarr-player.yaml

Environment variables use the TVARR_PLAYER_ prefix and underscores for
nesting, e.g. player.startup_timeout -> TVARR_PLAYER_PLAYER_STARTUP_TIMEOUT.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// humanize renders durations in their string form.
func humanize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case time.Duration:
			out[k] = tv.String()
		case map[string]any:
			out[k] = humanize(tv)
		default:
			out[k] = v
		}
	}
	return out
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	v := viper.New()
	config.SetDefaults(v)
	if _, err := config.FromViper(v); err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}

	data, err := yaml.Marshal(humanize(v.AllSettings()))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprintln(os.Stdout, "# tvarr-player configuration (defaults)")
	fmt.Fprintln(os.Stdout, "# Duration format: 500ms, 30s, 5m")
	_, err = os.Stdout.Write(data)
	return err
}
