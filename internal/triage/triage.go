// Package triage categorizes stored messages and notifies on the ones
// worth acting on.
package triage

import (
	"context"
	"log/slog"
	"slices"

	"github.com/nhle/mailsift/internal/classify"
	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/notify"
	"github.com/nhle/mailsift/internal/store"
)

// Service runs classify, store and notify for one message at a time.
type Service struct {
	store      store.MessageStore
	classifier classify.Classifier
	notifier   notify.Notifier
	notifyOn   []model.Category
	logger     *slog.Logger
}

// New creates a Service. Messages classified into one of notifyOn are
// passed to the notifier.
func New(
	s store.MessageStore,
	c classify.Classifier,
	n notify.Notifier,
	notifyOn []model.Category,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      s,
		classifier: c,
		notifier:   n,
		notifyOn:   notifyOn,
		logger:     logger,
	}
}

// Categorize classifies message id, stores the category and notifies if
// the category is one of the notify categories. It returns
// store.ErrNotFound for an unknown id. Notification failures are not
// returned.
func (s *Service) Categorize(ctx context.Context, id int64) (*model.Message, error) {
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	category := s.classifier.Classify(ctx, m.Subject, m.Body)

	updated, err := s.store.SetCategory(ctx, id, category)
	if err != nil {
		return nil, err
	}
	s.logger.Info("message categorized", "id", id, "category", category)

	if slices.Contains(s.notifyOn, category) {
		s.notifier.Notify(ctx, *updated)
	}
	return updated, nil
}
