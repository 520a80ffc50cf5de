package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	configAPIVersion = "webhooks-admin/v1"
	configKind       = "Config"
)

// Config is the CLI's connection file, ~/.webhooks/config.yaml unless
// WEBHOOKS_CONFIG points elsewhere.
type Config struct {
	APIVersion     string                   `yaml:"apiVersion" json:"apiVersion"`
	Kind           string                   `yaml:"kind" json:"kind"`
	CurrentContext string                   `yaml:"current-context" json:"current-context"`
	Contexts       map[string]ContextDetail `yaml:"contexts" json:"contexts"`
}

// ContextDetail is one API endpoint and the credentials used against it.
type ContextDetail struct {
	APIURL    string `yaml:"api-url" json:"api-url"`
	Token     string `yaml:"token,omitempty" json:"token,omitempty"`
	TokenFile string `yaml:"token-file,omitempty" json:"token-file,omitempty"`
}

// bearer returns the inline token, falling back to the token file.
func (d ContextDetail) bearer() (string, error) {
	if d.Token != "" || d.TokenFile == "" {
		return d.Token, nil
	}
	raw, err := os.ReadFile(expandHome(d.TokenFile))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func configPath() string {
	if p := os.Getenv("WEBHOOKS_CONFIG"); p != "" {
		return expandHome(p)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".webhooks", "config.yaml")
}

func expandHome(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, rest)
}

// loadConfig reads the config file. A missing file yields an empty config.
func loadConfig() (*Config, error) {
	cfg := &Config{Contexts: map[string]ContextDetail{}}
	raw, err := os.ReadFile(configPath())
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath(), err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = map[string]ContextDetail{}
	}
	return cfg, nil
}

// save writes the file owner-only since contexts may hold tokens.
func (c *Config) save() error {
	c.APIVersion, c.Kind = configAPIVersion, configKind

	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// names lists contexts in a stable order.
func (c *Config) names() []string {
	out := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// active resolves the context to use: --context, WEBHOOKS_CONTEXT, then
// current-context.
func (c *Config) active() (string, ContextDetail, bool) {
	name := flagContext
	if name == "" {
		name = os.Getenv("WEBHOOKS_CONTEXT")
	}
	if name == "" {
		name = c.CurrentContext
	}
	d, ok := c.Contexts[name]
	return name, d, ok
}

// redacted copies c with inline tokens masked.
func (c *Config) redacted() *Config {
	out := *c
	out.Contexts = make(map[string]ContextDetail, len(c.Contexts))
	for name, d := range c.Contexts {
		if d.Token != "" {
			d.Token = "REDACTED"
		}
		out.Contexts[name] = d
	}
	return &out
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI connection contexts",
}

var setContextCmd = &cobra.Command{
	Use:   "set-context NAME",
	Short: "Create or update a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		f := cmd.Flags()
		apiURL, _ := f.GetString("api-url")
		token, _ := f.GetString("token")
		tokenFile, _ := f.GetString("token-file")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Updates keep the fields that were not passed.
		d := cfg.Contexts[name]
		if f.Changed("api-url") {
			d.APIURL = apiURL
		}
		if f.Changed("token") {
			d.Token, d.TokenFile = token, ""
		}
		if f.Changed("token-file") {
			d.Token, d.TokenFile = "", tokenFile
		}
		if d.APIURL == "" {
			return errors.New("--api-url is required")
		}
		if d.Token == "" && d.TokenFile == "" {
			return errors.New("--token or --token-file is required")
		}

		cfg.Contexts[name] = d
		if cfg.CurrentContext == "" {
			cfg.CurrentContext = name
		}
		if err := cfg.save(); err != nil {
			return err
		}

		fmt.Fprintf(stdout, "Context %q set.\n", name)
		if cfg.CurrentContext == name {
			fmt.Fprintf(stdout, "Current context is %q.\n", name)
		}
		return nil
	},
}

var useContextCmd = &cobra.Command{
	Use:   "use-context NAME",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, ok := cfg.Contexts[args[0]]; !ok {
			return fmt.Errorf("context %q not found", args[0])
		}
		cfg.CurrentContext = args[0]
		if err := cfg.save(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Switched to context %q.\n", args[0])
		return nil
	},
}

var deleteContextCmd = &cobra.Command{
	Use:   "delete-context NAME",
	Short: "Remove a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, ok := cfg.Contexts[args[0]]; !ok {
			return fmt.Errorf("context %q not found", args[0])
		}
		delete(cfg.Contexts, args[0])
		if cfg.CurrentContext == args[0] {
			cfg.CurrentContext = ""
		}
		if err := cfg.save(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Context %q deleted.\n", args[0])
		return nil
	},
}

var currentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Print the context in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name, _, ok := cfg.active()
		if !ok {
			return errors.New("no context selected")
		}
		fmt.Fprintln(stdout, name)
		return nil
	},
}

var getContextsCmd = &cobra.Command{
	Use:   "get-contexts",
	Short: "List configured contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if done, err := printStructured(cfg.redacted().Contexts); done {
			return err
		}

		current, _, _ := cfg.active()
		t := newTable("CURRENT", "NAME", "API-URL", "AUTH")
		for _, name := range cfg.names() {
			d := cfg.Contexts[name]
			mark := ""
			if name == current {
				mark = "*"
			}
			auth := "token"
			if d.Token == "" {
				auth = "file:" + d.TokenFile
			}
			t.AddRow(mark, name, d.APIURL, auth)
		}
		t.Flush()
		return nil
	},
}

var viewConfigCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the configuration with tokens masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagOutput == outputJSON {
			return printJSON(cfg.redacted())
		}
		return printYAML(cfg.redacted())
	},
}

func init() {
	// Local flags shadow the persistent ones of the same name.
	setContextCmd.Flags().String("api-url", "", "API URL")
	setContextCmd.Flags().String("token", "", "Bearer token")
	setContextCmd.Flags().String("token-file", "", "File holding the bearer token")

	configCmd.AddCommand(setContextCmd, useContextCmd, deleteContextCmd,
		currentContextCmd, getContextsCmd, viewConfigCmd)
}
