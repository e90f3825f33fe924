package domain

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const maxTitleLength = 255

type NotificationService struct {
	repo       NotificationRepository
	dispatcher PushDispatcher
	badges     BadgeCache
	feed       LiveFeed
	logger     *zap.Logger
}

// NewNotificationService creates the notification store service. badges and feed may be nil.
func NewNotificationService(repo NotificationRepository, badges BadgeCache, feed LiveFeed, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		badges: badges,
		feed:   feed,
		logger: logger.With(zap.String("component", "notifications")),
	}
}

// AttachDispatcher wires the push dispatcher. The dispatcher reads badge counts
// through this service, so it is attached after construction.
func (s *NotificationService) AttachDispatcher(d PushDispatcher) {
	s.dispatcher = d
}

// Create validates and stores a notification
func (s *NotificationService) Create(ctx context.Context, params CreateNotificationParams) (*Notification, error) {
	params.Title = strings.TrimSpace(params.Title)
	params.Body = strings.TrimSpace(params.Body)
	params.Category = ParseCategory(string(params.Category))
	if err := validateCreate(params); err != nil {
		return nil, err
	}

	n, err := s.repo.CreateNotification(ctx, params)
	if err != nil {
		if !errors.Is(err, ErrDuplicate) {
			s.logger.Error("failed to create notification", zap.Error(err))
		}
		return nil, err
	}

	if s.badges != nil {
		if n.IsBroadcast() {
			s.badges.InvalidateAll(ctx)
		} else {
			s.badges.InvalidateUser(ctx, n.TargetUserID)
		}
	}
	if s.feed != nil {
		s.feed.Publish(n)
	}

	s.logger.Info("notification created",
		zap.Int64("notification_id", n.ID),
		zap.Int64("target_user_id", n.TargetUserID),
		zap.String("category", string(n.Category)),
	)
	return n, nil
}

// CreateAndDispatch stores a notification and pushes it to devices. Delivery problems
// are reported in the result; only store and lookup failures are returned as errors.
func (s *NotificationService) CreateAndDispatch(ctx context.Context, params CreateNotificationParams) (*Notification, *DispatchResult, error) {
	n, err := s.Create(ctx, params)
	if err != nil {
		return nil, nil, err
	}
	if s.dispatcher == nil {
		return n, nil, nil
	}
	result, err := s.dispatcher.Dispatch(ctx, n.ID)
	if err != nil {
		return n, nil, err
	}
	return n, result, nil
}

// Redispatch pushes an existing notification again. Devices already reached may get a duplicate.
func (s *NotificationService) Redispatch(ctx context.Context, id int64) (*DispatchResult, error) {
	if s.dispatcher == nil {
		return nil, errors.New("push dispatcher not configured")
	}
	return s.dispatcher.Dispatch(ctx, id)
}

func (s *NotificationService) Get(ctx context.Context, id int64) (*Notification, error) {
	return s.repo.GetNotification(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, filter ListFilter) (*NotificationPage, error) {
	filter.Normalize()
	switch filter.ReadState {
	case ReadStateAll:
	case ReadStateRead, ReadStateUnread:
		if filter.ViewerID == nil {
			return nil, invalid("read_state", "requires a viewing user")
		}
	default:
		return nil, invalid("read_state", "must be all, read or unread")
	}

	items, total, err := s.repo.ListNotifications(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Notification{}
	}
	return &NotificationPage{Items: items, Total: total, Page: filter.Page, PerPage: filter.PerPage}, nil
}

func (s *NotificationService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteNotification(ctx, id); err != nil {
		return err
	}
	if s.badges != nil {
		s.badges.InvalidateAll(ctx)
	}
	return nil
}

// MarkRead records that userID read the notification. Repeating it is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID int64) error {
	created, err := s.repo.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if created && s.badges != nil {
		s.badges.InvalidateUser(ctx, userID)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if count > 0 && s.badges != nil {
		s.badges.InvalidateUser(ctx, userID)
	}
	return count, nil
}

// UnreadCount counts the user's own and broadcast notifications without a read record
func (s *NotificationService) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var slot string
	if s.badges != nil {
		cached, cachedSlot, ok := s.badges.GetUnread(ctx, userID)
		if ok {
			return cached, nil
		}
		slot = cachedSlot
	}
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.badges != nil && slot != "" {
		s.badges.SetUnread(ctx, userID, slot, count)
	}
	return count, nil
}

func validateCreate(p CreateNotificationParams) error {
	if p.Title == "" {
		return invalid("title", "is required")
	}
	if utf8.RuneCountInString(p.Title) > maxTitleLength {
		return invalid("title", "must be at most 255 characters")
	}
	if p.Body == "" {
		return invalid("body", "is required")
	}
	if p.TargetUserID < 0 {
		return invalid("user_id", "must be 0 (all users) or a user id")
	}
	switch p.ReferenceType {
	case "", ReferencePost, ReferenceEvent:
	default:
		return invalid("reference_type", "must be post or event")
	}
	return nil
}
