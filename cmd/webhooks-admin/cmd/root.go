package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version string

	// stdout is swapped in tests.
	stdout io.Writer = os.Stdout

	// Global flags
	flagAPIURL  string
	flagToken   string
	flagContext string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "webhooks-admin",
	Short: "Webhook service administration CLI",
	Long: `webhooks-admin manages webhook registrations, fires test
notifications and inspects delivery status through the control API.

Use "webhooks-admin config set-context" to configure your connection and
"webhooks-admin token" to mint a development token.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override API URL (env: WEBHOOKS_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Override bearer token (env: WEBHOOKS_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&flagContext, "context", "c", "", "Use specific context (env: WEBHOOKS_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(registrationsCmd)
	rootCmd.AddCommand(filtersCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(deliveriesCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("WEBHOOKS_API_URL")
	}
	if flagToken == "" {
		flagToken = os.Getenv("WEBHOOKS_TOKEN")
	}

	if flagAPIURL == "" || flagToken == "" {
		u, t := resolveFromConfigFile()
		if flagAPIURL == "" {
			flagAPIURL = u
		}
		if flagToken == "" {
			flagToken = t
		}
	}
}

// resolveFromConfigFile reads the active context. Any failure leaves both
// values empty so newAPIClient reports what is missing.
func resolveFromConfigFile() (string, string) {
	cfg, err := loadConfig()
	if err != nil {
		return "", ""
	}
	_, d, ok := cfg.active()
	if !ok {
		return "", ""
	}
	token, err := d.bearer()
	if err != nil {
		return d.APIURL, ""
	}
	return d.APIURL, token
}

var (
	errNoAPIURL = errors.New("API URL not configured. Use --api-url, WEBHOOKS_API_URL, or 'webhooks-admin config set-context'")
	errNoToken  = errors.New("token not configured. Use --token, WEBHOOKS_TOKEN, or 'webhooks-admin token'")
)

func newAPIClient() (*Client, error) {
	if flagAPIURL == "" {
		return nil, errNoAPIURL
	}
	if flagToken == "" {
		return nil, errNoToken
	}
	return NewClient(flagAPIURL, flagToken, flagVerbose), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(stdout, "webhooks-admin version %s\n", version)
		fmt.Fprintf(stdout, "  Go:       %s\n", runtime.Version())
		fmt.Fprintf(stdout, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
