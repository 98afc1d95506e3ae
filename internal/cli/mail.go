package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/store"
	"github.com/nhle/mailsift/internal/theme"
)

func newMailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Browse and categorize stored mail",
	}
	cmd.AddCommand(newMailListCmd())
	cmd.AddCommand(newMailShowCmd())
	cmd.AddCommand(newMailCategorizeCmd())
	return cmd
}

func newMailListCmd() *cobra.Command {
	var (
		accountID string
		folder    string
		category  string
		search    string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter store.MessageFilter
			if accountID != "" {
				filter.AccountID = &accountID
			}
			if folder != "" {
				filter.Folder = &folder
			}
			if category != "" {
				c, err := model.ParseCategory(category)
				if err != nil {
					return err
				}
				filter.Category = &c
			}
			if search != "" {
				filter.Query = &search
			}
			filter.Limit = limit
			filter.Offset = offset

			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			msgs, err := a.Store().ListMessages(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list messages: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				if msgs == nil {
					msgs = []model.Message{}
				}
				return printJSON(out, msgs)
			}

			if len(msgs) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}

			rows := make([][]string, 0, len(msgs))
			for _, m := range msgs {
				rows = append(rows, []string{
					strconv.FormatInt(m.ID, 10),
					m.Date.Local().Format(time.DateTime),
					truncate(m.From, 32),
					truncate(m.Subject, 60),
					theme.CategoryStyle(m.Category).Render(theme.CategoryLabel(m.Category)),
				})
			}
			renderTable(out, []string{"ID", "DATE", "FROM", "SUBJECT", "CATEGORY"}, rows)
			fmt.Fprintln(out, theme.HelpStyle.Render(fmt.Sprintf("%d messages", len(msgs))))
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "only messages of this account id")
	cmd.Flags().StringVar(&folder, "folder", "", "only messages of this folder")
	cmd.Flags().StringVar(&category, "category", "", "only messages of this category")
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive text in subject, body, from or to")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of messages to skip")
	return cmd
}

func newMailShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one message",
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

			m, err := a.Store().GetMessage(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("message %d not found", id)
			}
			if err != nil {
				return fmt.Errorf("failed to load message: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return printJSON(out, m)
			}

			fmt.Fprintf(out, "From:     %s\n", m.From)
			fmt.Fprintf(out, "To:       %s\n", m.To)
			fmt.Fprintf(out, "Date:     %s\n", m.Date.Local().Format(time.RFC1123Z))
			fmt.Fprintf(out, "Subject:  %s\n", m.Subject)
			fmt.Fprintf(out, "Folder:   %s\n", m.Folder)
			fmt.Fprintf(out, "Category: %s\n\n",
				theme.CategoryStyle(m.Category).Render(theme.CategoryLabel(m.Category)))
			fmt.Fprintln(out, m.Body)
			return nil
		},
	}
}

func newMailCategorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categorize <id>",
		Short: "Classify a message and notify if it is one to act on",
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

			m, err := a.Triage().Categorize(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("message %d not found", id)
			}
			if err != nil {
				return fmt.Errorf("failed to categorize message: %w", err)
			}

			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), m)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Message %d categorized as %s\n", m.ID,
				theme.CategoryStyle(m.Category).Render(theme.CategoryLabel(m.Category)))
			return nil
		},
	}
}
