package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/mise/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show mise configuration",
	Long: `Display mise configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (MISE_* prefix)
2. Project config (nearest am.toml above the working directory)
3. User config (~/.mise/am.toml)
4. System config (/etc/mise/am.toml)
5. Default values

Examples:
  mise am show                    # Show current configuration
  mise am show --format json      # Show configuration in JSON format
  mise am show --sources          # Show where every value came from
  mise am validate                # Validate current configuration
  mise am set pulse.poll_interval_ms 250   # Write to ~/.mise/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a setting to a config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = am.UserConfigPath()
		}
		if path == "" {
			return fmt.Errorf("could not determine home directory; pass --file")
		}
		if err := am.SetValue(path, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", args[0], args[1], path)
		return nil
	},
}

var (
	configFormat string
	showSources  bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amShowCmd.Flags().BoolVar(&showSources, "sources", false, "List every setting with its source")

	AmCmd.AddCommand(amShowCmd)
	amSetCmd.Flags().String("file", "", "Config file to write (default: ~/.mise/am.toml)")

	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amSetCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if showSources {
		intro, err := am.GetConfigIntrospection()
		if err != nil {
			return err
		}
		if intro.ConfigFile != "" {
			fmt.Fprintf(out, "# active file: %s\n", intro.ConfigFile)
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE\tSOURCE\tFROM")
		for _, s := range intro.Settings {
			fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", s.Key, s.Value, s.Source, s.SourcePath)
		}
		return w.Flush()
	}

	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(out, "# mise configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Fprintf(out, "# mise configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}
