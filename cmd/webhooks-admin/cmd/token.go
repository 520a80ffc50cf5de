package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/webhooks/pkg/jwt"
)

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Mint a bearer token for development",
	Long: `Mint an HS256 bearer token signed with the server's secret.

The secret is read from --secret or AUTH_JWT_SECRET and must match the
server's configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("secret", "", "Signing secret (env: AUTH_JWT_SECRET)")
	tokenCmd.Flags().String("issuer", "webhooks", "Token issuer (env: AUTH_JWT_ISSUER)")
	tokenCmd.Flags().String("role", jwt.RoleUser, "Role claim (user, admin)")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}

type tokenOutput struct {
	Token     string `json:"token" yaml:"token"`
	UserID    string `json:"user_id" yaml:"user_id"`
	Role      string `json:"role" yaml:"role"`
	ExpiresAt string `json:"expires_at" yaml:"expires_at"`
}

func runToken(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("AUTH_JWT_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("signing secret is required (--secret or AUTH_JWT_SECRET)")
	}

	issuer, _ := cmd.Flags().GetString("issuer")
	if env := os.Getenv("AUTH_JWT_ISSUER"); env != "" && !cmd.Flags().Changed("issuer") {
		issuer = env
	}

	role, _ := cmd.Flags().GetString("role")
	if role != jwt.RoleUser && role != jwt.RoleAdmin {
		return fmt.Errorf("unknown role %q (user, admin)", role)
	}

	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	gen := jwt.NewGenerator(jwt.TokenConfig{
		Secret:              secret,
		Issuer:              issuer,
		AccessTokenDuration: ttl,
	})
	token, expiresAt, err := gen.GenerateAccessToken(args[0], role)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	out := tokenOutput{
		Token:     token,
		UserID:    args[0],
		Role:      role,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}
	if done, err := printStructured(out); done {
		return err
	}

	fmt.Fprintln(stdout, token)
	return nil
}
