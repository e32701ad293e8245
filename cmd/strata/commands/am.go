package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/strata/am"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage strata configuration",
	Long: sym.AM + ` am — Manage strata configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (STRATA_* prefix)
2. Project config (./am.toml, searched up the directory tree)
3. User config (~/.strata/am.toml)
4. System config (/etc/strata/am.toml)
5. Default values

Examples:
  strata am show                          # Show current configuration
  strata am show --format json            # Show configuration in JSON format
  strata am get freshness.warn_window     # Get specific config value
  strata am set pulse.workers 4           # Write to ~/.strata/am.toml
  strata am set sensor.timezone UTC --project
  strata am validate                      # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pulse.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long: `Write a value into the user config, or with --project into the nearest
project am.toml. Integers, floats and booleans are stored typed; a value
containing commas is stored as a list.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade, which files were checked, and the
source of every effective setting.`,
	RunE: runAmWhere,
}

var (
	configFormat string
	setProject   bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().BoolVar(&setProject, "project", false, "Write to the project am.toml instead of the user config")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	shown := *cfg
	if shown.Warehouse.Password != "" {
		shown.Warehouse.Password = "********"
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(shown)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# strata configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(shown)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# strata configuration\n%s", string(data))

	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	key := args[0]
	if !am.GetViper().IsSet(key) {
		return errors.NewNotFoundError("configuration key %q", key)
	}
	fmt.Println(am.Get(key))
	return nil
}

// parseValue types a command line value for the TOML file.
func parseValue(s string) interface{} {
	if strings.Contains(s, ",") {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], parseValue(args[1])

	if setProject {
		path := am.ProjectConfigPath()
		if path == "" {
			path = "am.toml"
		}
		if err := am.SetValue(path, key, value); err != nil {
			return err
		}
		fmt.Printf("%s %s = %v (%s)\n", sym.AM, key, value, path)
	} else {
		if err := am.SetUserValue(key, value); err != nil {
			return err
		}
		fmt.Printf("%s %s = %v (user config)\n", sym.AM, key, value)
	}

	am.Reset()
	if _, err := loadConfig(); err != nil {
		return errors.WithHint(err, "the value was written; fix or revert it with 'strata am set'")
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  [DEFAULT]  Built-in defaults")
	for _, f := range am.ConfigFiles() {
		state := "missing"
		if f.Exists {
			state = "found"
		}
		fmt.Printf("  [%-7s]  %s (%s)\n", strings.ToUpper(string(f.Source)), f.Path, state)
	}
	fmt.Println("  [ENV]      STRATA_* environment variables")
	fmt.Println()

	settings := append([]am.SettingInfo(nil), intro.Settings...)
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })

	fmt.Println("Active configuration:")
	for _, s := range settings {
		origin := string(s.Source)
		if s.SourcePath != "" {
			origin += " " + s.SourcePath
		}
		fmt.Printf("  %-36s %-30v %s\n", s.Key, s.Value, origin)
	}
	return nil
}
