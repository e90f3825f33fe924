package domain

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	StatusPublish = "publish"

	excerptWords = 20
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// ContentKind is the kind of published content that can trigger a notification
type ContentKind string

const (
	ContentPost  ContentKind = "post"
	ContentEvent ContentKind = "event"
)

// ContentPublishedEvent is a status transition reported by the content system
type ContentPublishedEvent struct {
	Kind      ContentKind
	ContentID int64
	Title     string
	Excerpt   string
	Content   string
	ImageURL  string
	Permalink string
	OldStatus string
	NewStatus string
}

// AutoNotifySettings toggles automatic notifications per content kind
type AutoNotifySettings struct {
	Posts  bool
	Events bool
}

// PublishOutcome reports what HandlePublished did with an event
type PublishOutcome struct {
	Notification *Notification  `json:"notification,omitempty"`
	Result       *DispatchResult `json:"result,omitempty"`
	Skipped      bool            `json:"skipped"`
	Reason       string          `json:"reason,omitempty"`
}

// PublishService turns content publish transitions into broadcast notifications,
// at most one per content item.
type PublishService struct {
	notifications *NotificationService
	settings      AutoNotifySettings
	logger        *zap.Logger
}

func NewPublishService(notifications *NotificationService, settings AutoNotifySettings, logger *zap.Logger) *PublishService {
	return &PublishService{
		notifications: notifications,
		settings:      settings,
		logger:        logger.With(zap.String("component", "publish")),
	}
}

func (s *PublishService) HandlePublished(ctx context.Context, ev ContentPublishedEvent) (*PublishOutcome, error) {
	if ev.ContentID <= 0 {
		return nil, invalid("content_id", "is required")
	}
	if ev.NewStatus != StatusPublish || ev.OldStatus == StatusPublish {
		return &PublishOutcome{Skipped: true, Reason: "not a publish transition"}, nil
	}

	var (
		category Category
		refType  ReferenceType
		title    string
	)
	switch ev.Kind {
	case ContentPost:
		if !s.settings.Posts {
			return &PublishOutcome{Skipped: true, Reason: "auto-notify disabled for posts"}, nil
		}
		category, refType = CategoryBlogPost, ReferencePost
		title = fmt.Sprintf("New Blog Post: %s", strings.TrimSpace(ev.Title))
	case ContentEvent:
		if !s.settings.Events {
			return &PublishOutcome{Skipped: true, Reason: "auto-notify disabled for events"}, nil
		}
		category, refType = CategoryEvent, ReferenceEvent
		title = fmt.Sprintf("New Event: %s", strings.TrimSpace(ev.Title))
	default:
		return nil, invalid("kind", "must be post or event")
	}

	body := strings.TrimSpace(StripTags(ev.Excerpt))
	if body == "" {
		body = TrimWords(StripTags(ev.Content), excerptWords)
	}
	if body == "" {
		body = strings.TrimSpace(ev.Title)
	}

	contentID := ev.ContentID
	n, result, err := s.notifications.CreateAndDispatch(ctx, CreateNotificationParams{
		TargetUserID:  BroadcastUserID,
		Title:         title,
		Body:          body,
		Category:      category,
		ImageURL:      ev.ImageURL,
		ReferenceID:   &contentID,
		ReferenceType: refType,
		ReferenceURL:  ev.Permalink,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			s.logger.Debug("content already notified",
				zap.String("kind", string(ev.Kind)),
				zap.Int64("content_id", ev.ContentID),
			)
			return &PublishOutcome{Skipped: true, Reason: "already notified"}, nil
		}
		if n == nil {
			return nil, err
		}
		// stored but not pushed; a redispatch can deliver it
		s.logger.Error("dispatch failed", zap.Int64("notification_id", n.ID), zap.Error(err))
	}

	return &PublishOutcome{Notification: n, Result: result}, nil
}

// StripTags removes markup and decodes entities
func StripTags(s string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(s, " "))
}

// TrimWords keeps the first n words, appending an ellipsis when text was cut
func TrimWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}
