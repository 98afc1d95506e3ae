package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nhle/mailsift/internal/model"
)

// sampleAccount is the account created by Seed.
var sampleAccount = model.AccountParams{
	Host:     "imap.example.com",
	Port:     "993",
	Username: "test@example.com",
	Password: "password123",
}

// sampleMessage is one seeded message; a zero category stays unset.
type sampleMessage struct {
	from     string
	subject  string
	body     string
	date     time.Time
	category model.Category
}

var sampleMessages = []sampleMessage{
	{
		from:     "client@company.com",
		subject:  "Interested in your services",
		body:     "Hi, I saw your website and I'm interested in learning more about your services. Can we schedule a call?",
		date:     time.Date(2024, 2, 24, 10, 0, 0, 0, time.UTC),
		category: model.CategoryInterested,
	},
	{
		from:     "meeting@company.com",
		subject:  "Meeting Confirmed",
		body:     "Thank you for your time. I've booked a meeting slot for next Tuesday at 2 PM.",
		date:     time.Date(2024, 2, 24, 11, 0, 0, 0, time.UTC),
		category: model.CategoryMeetingBooked,
	},
	{
		from:     "noreply@spam.com",
		subject:  "You've won a prize!",
		body:     "Congratulations! You've been selected to receive a special offer...",
		date:     time.Date(2024, 2, 24, 12, 0, 0, 0, time.UTC),
		category: model.CategorySpam,
	},
	{
		from:    "lead@potential.com",
		subject: "Product inquiry",
		body:    "Hello, We're looking for a solution like yours. Could you send more information?",
		date:    time.Date(2024, 2, 24, 13, 0, 0, 0, time.UTC),
	},
}

// Seed creates one sample account with four sample messages. It does
// nothing when any account already exists.
func (a *App) Seed(ctx context.Context) error {
	start := time.Now()

	existing, err := a.accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	if len(existing) > 0 {
		a.logger.Info("sample data already present, not seeding", "accounts", len(existing))
		return nil
	}

	acct, err := a.accounts.Add(ctx, sampleAccount)
	if err != nil {
		return fmt.Errorf("seeding account: %w", err)
	}
	accountID := strconv.FormatInt(acct.ID, 10)

	for i, sm := range sampleMessages {
		m := model.Message{
			AccountID: accountID,
			MessageID: strconv.Itoa(i + 1),
			From:      sm.from,
			To:        sampleAccount.Username,
			Subject:   sm.subject,
			Body:      sm.body,
			Date:      sm.date,
			Folder:    "INBOX",
			Metadata:  map[string]string{},
		}
		if sm.category != "" {
			c := sm.category
			m.Category = &c
		}
		if _, _, err := a.store.InsertMessage(ctx, m); err != nil {
			return fmt.Errorf("seeding message %s: %w", m.MessageID, err)
		}
	}

	a.logger.Info("sample data added",
		"account_id", acct.ID,
		"messages", len(sampleMessages),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
