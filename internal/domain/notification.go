package domain

import (
	"context"
	"strings"
	"time"
)

// BroadcastUserID is the target user id meaning "every user".
const BroadcastUserID int64 = 0

// Category drives presentation (channel, colour) and deep-link construction
type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryEvent        Category = "event"
	CategoryBlogPost     Category = "blog_post"
	CategoryAnnouncement Category = "announcement"
)

// ParseCategory normalises free-form input. Empty and unknown values become general,
// the legacy "blog" alias becomes blog_post.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "event":
		return CategoryEvent
	case "blog", "blog_post":
		return CategoryBlogPost
	case "announcement":
		return CategoryAnnouncement
	default:
		return CategoryGeneral
	}
}

// ReferenceType names the kind of content a notification was generated from
type ReferenceType string

const (
	ReferencePost  ReferenceType = "post"
	ReferenceEvent ReferenceType = "event"
)

// Notification is a single in-app notification. A broadcast notification is one row
// shared by every user; read state lives in a separate per-user relation.
type Notification struct {
	ID            int64         `json:"id"`
	TargetUserID  int64         `json:"user_id"`
	Title         string        `json:"title"`
	Body          string        `json:"body"`
	Category      Category      `json:"type"`
	ImageURL      string        `json:"image_url,omitempty"`
	ReferenceID   *int64        `json:"reference_id,omitempty"`
	ReferenceType ReferenceType `json:"reference_type,omitempty"`
	ReferenceURL  string        `json:"reference_url,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	IsRead        bool          `json:"is_read"`
}

// IsBroadcast reports whether the notification targets every user
func (n *Notification) IsBroadcast() bool {
	return n.TargetUserID == BroadcastUserID
}

// VisibleTo reports whether userID should see the notification
func (n *Notification) VisibleTo(userID int64) bool {
	return n.IsBroadcast() || n.TargetUserID == userID
}

// HasReference reports whether both halves of the dedupe key are set
func (n *Notification) HasReference() bool {
	return n.ReferenceType != "" && n.ReferenceID != nil
}

// CreateNotificationParams holds parameters for notification creation
type CreateNotificationParams struct {
	TargetUserID  int64
	Title         string
	Body          string
	Category      Category
	ImageURL      string
	ReferenceID   *int64
	ReferenceType ReferenceType
	ReferenceURL  string
}

// ReadState filters notifications by the viewer's read state
type ReadState string

const (
	ReadStateAll    ReadState = "all"
	ReadStateRead   ReadState = "read"
	ReadStateUnread ReadState = "unread"
)

// SortOrder orders notifications by creation time
type SortOrder string

const (
	SortNewestFirst SortOrder = "desc"
	SortOldestFirst SortOrder = "asc"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ListFilter selects a page of notifications. ViewerID restricts the result to the
// viewer's own and broadcast notifications and computes IsRead for that viewer.
type ListFilter struct {
	ViewerID  *int64
	Category  Category
	ReadState ReadState
	Order     SortOrder
	Page      int
	PerPage   int
}

// Normalize fills defaults and clamps paging
func (f *ListFilter) Normalize() {
	if f.ReadState == "" {
		f.ReadState = ReadStateAll
	}
	if f.Order != SortOldestFirst {
		f.Order = SortNewestFirst
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
}

// Offset returns the row offset of the page
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// NotificationPage is one page of a listing
type NotificationPage struct {
	Items   []*Notification `json:"items"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, params CreateNotificationParams) (*Notification, error)
	GetNotification(ctx context.Context, id int64) (*Notification, error)
	ListNotifications(ctx context.Context, filter ListFilter) ([]*Notification, int, error)
	DeleteNotification(ctx context.Context, id int64) error
	// MarkRead reports whether a new read record was written
	MarkRead(ctx context.Context, userID, notificationID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
}
