// ABOUTME: Auth command managing stored candlepin and registry credentials
// ABOUTME: Keeps secrets in the OS keychain so settings files never hold them
package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/gillisandrew/regverify/internal/auth"
	"github.com/gillisandrew/regverify/internal/cmd"
)

func NewAuthCommand(ctx *cmd.CommandContext) *cobra.Command {
	var account string

	command := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
		Long: `Manage credentials used by regverify.

The candlepin account holds the BASIC auth username and password used by the
auth method scenario. The registry account holds the credential used by
'regverify report push'. Credentials are kept in the OS keychain when one is
available and in a 0600 file under the user config directory otherwise.`,
	}

	command.PersistentFlags().StringVar(&account, "account", string(auth.AccountCandlepin), "Account to manage (candlepin or registry)")

	command.AddCommand(newSetCommand(ctx, &account))
	command.AddCommand(newStatusCommand(ctx, &account))
	command.AddCommand(newClearCommand(ctx, &account))

	return command
}

func newSetCommand(ctx *cmd.CommandContext, account *string) *cobra.Command {
	var (
		username      string
		host          string
		passwordStdin bool
	)

	command := &cobra.Command{
		Use:   "set",
		Short: "Store a credential",
		Example: `  regverify auth set --username qa-user
  echo "$TOKEN" | regverify auth set --account registry --host quay.io --username robot --password-stdin`,
		Run: func(command *cobra.Command, args []string) {
			acct, err := auth.ParseAccount(*account)
			if err != nil {
				ctx.Logger.Error("Invalid account", ctx.Logger.Args("error", err))
				os.Exit(1)
			}
			if username == "" {
				ctx.Logger.Error("A username is required", ctx.Logger.Args("flag", "--username"))
				os.Exit(1)
			}

			secret, err := readSecret(command.InOrStdin(), passwordStdin)
			if err != nil {
				ctx.Logger.Error("Failed to read password", ctx.Logger.Args("error", err))
				os.Exit(1)
			}

			source, err := ctx.CredentialStorage().Store(acct, auth.StoredCredential{
				Username: username,
				Secret:   secret,
				Host:     host,
			})
			if err != nil {
				ctx.Logger.Error("Failed to store credential", ctx.Logger.Args("error", err))
				os.Exit(1)
			}

			pterm.Success.Printfln("Stored %s credential for %s", acct, pterm.LightCyan(username))
			pterm.Info.Printfln("Storage: %s", source)
		},
	}

	command.Flags().StringVarP(&username, "username", "u", "", "Username")
	command.Flags().StringVar(&host, "host", "", "Registry host the credential applies to (registry account)")
	command.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return command
}

func newStatusCommand(ctx *cmd.CommandContext, account *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "View a stored credential",
		Run: func(command *cobra.Command, args []string) {
			acct, err := auth.ParseAccount(*account)
			if err != nil {
				ctx.Logger.Error("Invalid account", ctx.Logger.Args("error", err))
				os.Exit(1)
			}

			cred, err := ctx.CredentialStorage().Get(acct)
			if err != nil {
				pterm.Warning.Printfln("No %s credential stored", acct)
				pterm.Info.Printfln("Run 'regverify auth set --account %s' to store one", acct)
				return
			}

			ctx.Logger.Info("Credential status",
				ctx.Logger.Args(
					"account", string(acct),
					"username", cred.Username,
					"secret", maskToken(cred.Secret),
					"host", cred.Host,
					"storage", cred.Source,
					"created", cred.CreatedAt.Format("2006-01-02 15:04:05"),
				),
			)
		},
	}
}

func newClearCommand(ctx *cmd.CommandContext, account *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove a stored credential",
		Run: func(command *cobra.Command, args []string) {
			acct, err := auth.ParseAccount(*account)
			if err != nil {
				ctx.Logger.Error("Invalid account", ctx.Logger.Args("error", err))
				os.Exit(1)
			}

			if err := ctx.CredentialStorage().Clear(acct); err != nil {
				ctx.Logger.Error("Error clearing credential", ctx.Logger.Args("error", err))
				os.Exit(1)
			}

			pterm.Success.Printfln("Removed stored %s credential", acct)
		},
	}
}

func readSecret(stdin io.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		secret := strings.TrimRight(line, "\r\n")
		if secret == "" {
			return "", fmt.Errorf("empty password on stdin")
		}
		return secret, nil
	}

	secret, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", fmt.Errorf("empty password")
	}
	return secret, nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
