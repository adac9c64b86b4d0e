package cmd

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/quarterhalt/cfddns/internal/config"
	"github.com/quarterhalt/cfddns/internal/provider"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify that the configured Cloudflare API token is valid and active",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := resolveOrPromptToken()
		if err != nil {
			return err
		}

		client, err := provider.NewCloudflare(token, provider.WithLogger(logrus.NewEntry(logger)))
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		verifyCtx, verifyCancel := context.WithTimeout(ctx, 15*time.Second)
		defer verifyCancel()

		status, err := client.VerifyToken(verifyCtx)
		if err != nil {
			return fmt.Errorf("unable to verify api token: %w", err)
		}
		if status != "active" {
			return fmt.Errorf("expected api token status to be \"active\"; got %q", status)
		}
		fmt.Println("token verified successfully")
		return nil
	},
}

// resolveOrPromptToken loads the token from the environment or token file,
// falling back to an interactive prompt when attached to a terminal.
func resolveOrPromptToken() (string, error) {
	v := viper.New()
	v.AutomaticEnv()
	cfg := &config.Config{
		Token:     strings.TrimSpace(v.GetString("API_TOKEN")),
		TokenFile: strings.TrimSpace(v.GetString("API_TOKEN_FILE")),
	}
	token, err := cfg.ResolveToken()
	if err == nil {
		return token, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", err
	}

	fmt.Printf("Enter Cloudflare API token: \n")
	raw, perr := term.ReadPassword(int(syscall.Stdin))
	if perr != nil {
		return "", fmt.Errorf("error reading token from stdin: %w", perr)
	}
	token = strings.TrimSpace(string(raw))
	if token == "" {
		return "", err
	}
	return token, nil
}
