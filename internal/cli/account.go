package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsift/internal/account"
	"github.com/nhle/mailsift/internal/logging"
	"github.com/nhle/mailsift/internal/mailbox"
	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/theme"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage IMAP accounts",
	}
	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountRemoveCmd())
	cmd.AddCommand(newAccountVerifyCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		p       model.AccountParams
		noInput bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an IMAP account",
		Long: "Registers an account. Connection details not given as flags are " +
			"prompted for. The password is kept in the system keyring.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if account.Validate(p) != nil && !noInput {
				if err := promptAccount(&p); err != nil {
					return err
				}
			}

			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.Accounts().Add(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("failed to add account: %w", err)
			}

			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), jsonAction{OK: true, Action: "add", ID: acct.ID, Detail: acct.Username})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account added: %d (%s on %s)\n", acct.ID, acct.Username, acct.Address())
			return nil
		},
	}

	cmd.Flags().StringVar(&p.Host, "host", "", "IMAP server host")
	cmd.Flags().StringVar(&p.Port, "port", "", "IMAP server port")
	cmd.Flags().StringVar(&p.Username, "username", "", "login name")
	cmd.Flags().StringVar(&p.Password, "password", "", "password (prompted when omitted)")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "fail instead of prompting for missing values")
	return cmd
}

// promptAccount asks for every connection parameter, keeping values that
// were already given.
func promptAccount(p *model.AccountParams) error {
	if p.Port == "" {
		p.Port = "993"
	}

	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP host").
				Placeholder("imap.example.com").
				Value(&p.Host).
				Validate(required("host")),
			huh.NewInput().
				Title("Port").
				Value(&p.Port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n <= 0 || n > 65535 {
						return errors.New("port must be a number between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Username").
				Placeholder("you@example.com").
				Value(&p.Username).
				Validate(required("username")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&p.Password).
				Validate(required("password")),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("aborted")
		}
		return fmt.Errorf("reading account details: %w", err)
	}
	return nil
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.Accounts().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				if accounts == nil {
					accounts = []model.Account{}
				}
				return printJSON(out, accounts)
			}

			if len(accounts) == 0 {
				fmt.Fprintln(out, "No accounts configured. Run 'mailsift account add' to add one.")
				return nil
			}

			rows := make([][]string, 0, len(accounts))
			for _, acct := range accounts {
				rows = append(rows, []string{
					strconv.FormatInt(acct.ID, 10),
					acct.Username,
					acct.Address(),
					acct.CreatedAt.Local().Format(time.DateTime),
				})
			}
			renderTable(out, []string{"ID", "USERNAME", "SERVER", "CREATED"}, rows)
			return nil
		},
	}
}

func newAccountRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an account and its stored password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Accounts().Remove(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to remove account: %w", err)
			}

			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), jsonAction{OK: true, Action: "remove", ID: id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account removed: %d\n", id)
			return nil
		},
	}
}

func newAccountVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Log in to an account and report its folder size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, cfg, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.Accounts().Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to load account: %w", err)
			}

			dialer := &mailbox.IMAPDialer{
				TLS:     cfg.Sync.TLS,
				Timeout: cfg.Sync.Timeout,
				Logger:  logging.Discard(),
			}
			client, err := dialer.Dial(cmd.Context(), *acct)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), theme.ErrorStyle.Render("login failed: "+err.Error()))
				return fmt.Errorf("account %d did not verify", id)
			}
			count, selErr := client.Select(cmd.Context(), cfg.Sync.Folder)
			_ = client.Logout(cmd.Context())
			if selErr != nil {
				return fmt.Errorf("opening %s: %w", cfg.Sync.Folder, selErr)
			}

			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), jsonAction{
					OK: true, Action: "verify", ID: id,
					Detail: fmt.Sprintf("%s: %d messages", cfg.Sync.Folder, count),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Login OK: %s has %d messages\n", cfg.Sync.Folder, count)
			return nil
		},
	}
}
