package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prt/internal/credentials"
	"github.com/joescharf/prt/internal/output"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the GitHub token",
	Long: `Manage the GitHub token used to fetch pull requests.

The token is read from github.token (config or PRT_GITHUB_TOKEN) first and
from the system keyring otherwise. 'set' and 'delete' only touch the keyring.
Without a token, requests are unauthenticated and public repos only.`,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store a token in the keyring (reads stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) > 0 {
			token = args[0]
		} else {
			fmt.Fprint(ui.Out, "GitHub token: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		return tokenSetRun(token)
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the masked token and where it comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tokenShowRun()
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:     "delete",
	Aliases: []string{"rm"},
	Short:   "Remove the token from the keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tokenDeleteRun()
	},
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the token against GitHub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tokenVerifyRun()
	},
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenShowCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
	tokenCmd.AddCommand(tokenVerifyCmd)
	rootCmd.AddCommand(tokenCmd)
}

func tokenSetRun(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}

	if dryRun {
		ui.DryRunMsg("Would store token %s", credentials.Mask(token))
		return nil
	}

	if err := getCredentials().Set(token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	ui.Success("Token stored: %s", credentials.Mask(token))
	return nil
}

func tokenShowRun() error {
	c := getCredentials()
	token, ok, err := c.Get()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if !ok {
		ui.Info("No token configured; requests are unauthenticated.")
		return nil
	}
	ui.Field("Token", "%s", credentials.Mask(token))
	ui.Field("Source", "%s", c.Source())
	return nil
}

func tokenDeleteRun() error {
	if dryRun {
		ui.DryRunMsg("Would delete the stored token")
		return nil
	}
	if err := getCredentials().Delete(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	ui.Success("Token deleted from keyring")
	if viper.GetString("github.token") != "" {
		ui.Warning("github.token is still set in config or environment and remains in use")
	}
	return nil
}

func tokenVerifyRun() error {
	c, err := getGitHubClient()
	if err != nil {
		return err
	}
	token, _, err := getCredentials().Get()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	info, err := c.VerifyToken(context.Background(), token)
	if err != nil {
		return describeUpstream(err)
	}

	ui.Success("Token is valid")
	ui.Field("Login", "%s", output.Cyan(info.Login))
	if info.Name != "" {
		ui.Field("Name", "%s", info.Name)
	}
	scopes := "(none)"
	if len(info.Scopes) > 0 {
		scopes = strings.Join(info.Scopes, ", ")
	}
	ui.Field("Scopes", "%s", scopes)
	ui.Field("Rate", "%d/%d remaining", info.RateRemaining, info.RateLimit)
	return nil
}
