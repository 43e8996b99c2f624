package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/EdgeViewer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the EdgeViewer config file",
	Long: `Inspect and edit the YAML config file used by serve and sink. Edits to
live settings are picked up by a running server.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show [SECTION...]",
	Short: "Print the configuration, whole or by section",
	Long: `Print the EdgeViewer configuration in file order. Sections are server,
capture, processing, render, export and sink; with none given every section
is printed.`,
	Example: `  # Everything, as YAML
  edgeviewer config show

  # Only the camera and processing settings
  edgeviewer config show capture processing

  # Export settings as JSON
  edgeviewer config show export --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change one value by dotted key",
	Long: `Change a single value. Keys are dotted paths into the
config file. A running server picks up live settings from the file.`,
	Example: `  # Set server port
  edgeviewer config set server_port 9090

  # Switch the display effect
  edgeviewer config set render.effect grayscale

  # Enable frame export
  edgeviewer config set export.enabled true`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print one value or subtree by dotted key",
	Long:  `Print the value stored under a dotted key such as render.effect.`,
	Example: `  # Get server port
  edgeviewer config get server_port

  # Get the whole capture section
  edgeviewer config get capture`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Long:  `Print the path of the config file, creating it with defaults if missing.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return writeSections(cmd.OutOrStdout(), configMgr.Get(), args, formatFlag)
}

// sectionOrder is the order sections appear in the config file
var sectionOrder = []string{"server", "capture", "processing", "render", "export", "sink"}

// sectionEntries returns the top-level keys and values making up a section
func sectionEntries(cfg *config.Config, section string) ([]string, []interface{}, error) {
	switch section {
	case "server":
		return []string{"server_port", "log_level", "log_pretty"},
			[]interface{}{cfg.ServerPort, cfg.LogLevel, cfg.LogPretty}, nil
	case "capture":
		return []string{section}, []interface{}{cfg.Capture}, nil
	case "processing":
		return []string{section}, []interface{}{cfg.Processing}, nil
	case "render":
		return []string{section}, []interface{}{cfg.Render}, nil
	case "export":
		return []string{section}, []interface{}{cfg.Export}, nil
	case "sink":
		return []string{section}, []interface{}{cfg.Sink}, nil
	default:
		return nil, nil, fmt.Errorf("%w: section %q (use: %s)", config.ErrUnknownKey, section, strings.Join(sectionOrder, ", "))
	}
}

// writeSections prints the chosen sections, or all of them, as yaml or json
func writeSections(w io.Writer, cfg *config.Config, sections []string, format string) error {
	if len(sections) == 0 {
		sections = sectionOrder
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	flat := make(map[string]interface{})
	for _, section := range sections {
		keys, values, err := sectionEntries(cfg, section)
		if err != nil {
			return err
		}
		for i, key := range keys {
			var val yaml.Node
			if err := val.Encode(values[i]); err != nil {
				return err
			}
			doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &val)
			flat[key] = values[i]
		}
	}

	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(flat)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(doc); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", format)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configMgr.SetValue(key, value); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v, err := configMgr.GetValue(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), config.FormatValue(v))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), configMgr.GetConfigPath())
	return nil
}
