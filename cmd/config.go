package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/prt/internal/credentials"
	"github.com/joescharf/prt/internal/github"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "prt"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prt configuration.

Running bare 'prt config' is the same as 'prt config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml from the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configValidateRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configKey is one setting known to prt. Help becomes the comment above the
// key in a generated config file.
type configKey struct {
	Key    string
	Help   string
	Secret bool
}

var configKeys = []configKey{
	{Key: "state_dir", Help: "State directory (serve pid and log files)"},
	{Key: "db_path", Help: "SQLite database path"},
	{Key: "github.backend", Help: `Fetch backend: "api" (REST) or "gh" (GitHub CLI)`},
	{Key: "github.api_url", Help: "API base URL for GitHub Enterprise (empty for github.com)"},
	{Key: "github.token", Help: "Use 'prt token set' or PRT_GITHUB_TOKEN instead", Secret: true},
	{Key: "github.timeout", Help: "Per-request timeout"},
	{Key: "keyring.service", Help: "OS keyring entry holding the token"},
	{Key: "keyring.account"},
	{Key: "log.level", Help: "debug, info, warn, error"},
	{Key: "log.file", Help: "Write JSON logs to this file instead of stderr"},
	{Key: "serve.port", Help: "REST API port for 'prt serve'"},
	{Key: "serve.request_timeout"},
}

// envVar is the environment override for key, e.g. PRT_GITHUB_API_URL.
func envVar(key string) string {
	return "PRT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// configValue returns the effective value of key in the form it is written
// to YAML. Durations print as "30s" rather than nanoseconds.
func configValue(key string) any {
	switch v := viper.Get(key).(type) {
	case time.Duration:
		return v.String()
	default:
		return v
	}
}

// renderConfig builds a commented config.yaml from the effective settings.
// Secrets are never written.
func renderConfig() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	sections := map[string]*yaml.Node{}

	for _, k := range configKeys {
		if k.Secret {
			continue
		}
		parent, name := root, k.Key
		if section, leaf, ok := strings.Cut(k.Key, "."); ok {
			parent = sections[section]
			if parent == nil {
				parent = &yaml.Node{Kind: yaml.MappingNode}
				sections[section] = parent
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: section}, parent)
			}
			name = leaf
		}

		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: name}
		if k.Help != "" {
			keyNode.HeadComment = "# " + k.Help
		}
		valNode := &yaml.Node{}
		if err := valNode.Encode(configValue(k.Key)); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k.Key, err)
		}
		parent.Content = append(parent.Content, keyNode, valNode)
	}

	var buf bytes.Buffer
	buf.WriteString("# prt configuration\n# See: prt config show (for effective values and sources)\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		ui.Out.Write(data)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// 0600: the file may later hold github.token.
	if err := os.WriteFile(cfgPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	ui.Out.Write(data)
	return nil
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	file := viper.New()
	file.SetConfigFile(cfgPath)
	if err := file.ReadInConfig(); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	for _, k := range configKeys {
		val := configValue(k.Key)
		if k.Secret {
			val = credentials.Mask(viper.GetString(k.Key))
		}
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, detectSource(k.Key, file))
	}

	if problems := validateConfig(); len(problems) > 0 {
		fmt.Fprintln(ui.Out)
		for _, p := range problems {
			ui.Warning("%s", p)
		}
	}
	return nil
}

// detectSource reports where key's effective value comes from: the
// environment, the config file read into file, or the built-in default.
func detectSource(key string, file *viper.Viper) string {
	if name := envVar(key); os.Getenv(name) != "" {
		return fmt.Sprintf("(env: %s)", name)
	}
	if file != nil && file.InConfig(key) {
		return "(file)"
	}
	return "(default)"
}

// validateConfig returns one message per setting prt cannot use.
func validateConfig() []string {
	var problems []string

	switch b := viper.GetString("github.backend"); b {
	case github.BackendAPI, github.BackendCLI:
	default:
		problems = append(problems, fmt.Sprintf("github.backend: %q is not %q or %q", b, github.BackendAPI, github.BackendCLI))
	}

	var level zapcore.Level
	if lv := viper.GetString("log.level"); lv != "" {
		if err := level.Set(lv); err != nil {
			problems = append(problems, fmt.Sprintf("log.level: %v", err))
		}
	}

	if port := viper.GetInt("serve.port"); port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("serve.port: %d is out of range", port))
	}

	for _, key := range []string{"github.timeout", "serve.request_timeout"} {
		if d := viper.GetDuration(key); d <= 0 {
			problems = append(problems, fmt.Sprintf("%s: %q is not a positive duration", key, viper.GetString(key)))
		}
	}
	return problems
}

func configValidateRun() error {
	problems := validateConfig()
	if len(problems) == 0 {
		ui.Success("Configuration is valid")
		return nil
	}
	for _, p := range problems {
		ui.Error("%s", p)
	}
	return errors.New("invalid configuration")
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prt config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
