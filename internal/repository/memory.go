package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/churchapp/notifications/internal/domain"
)

type readKey struct {
	userID         int64
	notificationID int64
}

type refKey struct {
	refType domain.ReferenceType
	refID   int64
}

// MemoryRepository implements the notification and token stores in process memory.
// Every method holds the lock for its whole duration, so each call is atomic.
type MemoryRepository struct {
	mu sync.Mutex

	notifications map[int64]*domain.Notification
	references    map[refKey]int64
	reads         map[readKey]time.Time
	tokens        map[string]*domain.DeviceToken

	nextNotificationID int64
	nextTokenID        int64
	now                func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		notifications: make(map[int64]*domain.Notification),
		references:    make(map[refKey]int64),
		reads:         make(map[readKey]time.Time),
		tokens:        make(map[string]*domain.DeviceToken),
		now:           time.Now,
	}
}

// SetClock replaces the time source
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Notification store

func (r *MemoryRepository) CreateNotification(ctx context.Context, params domain.CreateNotificationParams) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key refKey
	hasRef := params.ReferenceType != "" && params.ReferenceID != nil
	if hasRef {
		key = refKey{refType: params.ReferenceType, refID: *params.ReferenceID}
		if _, exists := r.references[key]; exists {
			return nil, domain.ErrDuplicate
		}
	}

	r.nextNotificationID++
	n := &domain.Notification{
		ID:            r.nextNotificationID,
		TargetUserID:  params.TargetUserID,
		Title:         params.Title,
		Body:          params.Body,
		Category:      params.Category,
		ImageURL:      params.ImageURL,
		ReferenceType: params.ReferenceType,
		ReferenceURL:  params.ReferenceURL,
		CreatedAt:     r.now(),
	}
	if params.ReferenceID != nil {
		id := *params.ReferenceID
		n.ReferenceID = &id
	}

	r.notifications[n.ID] = n
	if hasRef {
		r.references[key] = n.ID
	}
	return copyNotification(n), nil
}

func (r *MemoryRepository) GetNotification(ctx context.Context, id int64) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyNotification(n), nil
}

func (r *MemoryRepository) ListNotifications(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	filter.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.Notification
	for _, n := range r.notifications {
		if filter.Category != "" && n.Category != filter.Category {
			continue
		}
		item := copyNotification(n)
		if filter.ViewerID != nil {
			if !n.VisibleTo(*filter.ViewerID) {
				continue
			}
			_, item.IsRead = r.reads[readKey{userID: *filter.ViewerID, notificationID: n.ID}]
		}
		if filter.ReadState == domain.ReadStateRead && !item.IsRead {
			continue
		}
		if filter.ReadState == domain.ReadStateUnread && item.IsRead {
			continue
		}
		matched = append(matched, item)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if filter.Order == domain.SortOldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if filter.Order == domain.SortOldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []*domain.Notification{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepository) DeleteNotification(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.HasReference() {
		delete(r.references, refKey{refType: n.ReferenceType, refID: *n.ReferenceID})
	}
	for key := range r.reads {
		if key.notificationID == id {
			delete(r.reads, key)
		}
	}
	delete(r.notifications, id)
	return nil
}

func (r *MemoryRepository) MarkRead(ctx context.Context, userID, notificationID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[notificationID]
	if !ok || !n.VisibleTo(userID) {
		return false, domain.ErrNotFound
	}
	key := readKey{userID: userID, notificationID: notificationID}
	if _, exists := r.reads[key]; exists {
		return false, nil
	}
	r.reads[key] = r.now()
	return true, nil
}

func (r *MemoryRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	now := r.now()
	for id, n := range r.notifications {
		if !n.VisibleTo(userID) {
			continue
		}
		key := readKey{userID: userID, notificationID: id}
		if _, exists := r.reads[key]; exists {
			continue
		}
		r.reads[key] = now
		count++
	}
	return count, nil
}

func (r *MemoryRepository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, n := range r.notifications {
		if !n.VisibleTo(userID) {
			continue
		}
		if _, read := r.reads[readKey{userID: userID, notificationID: id}]; !read {
			count++
		}
	}
	return count, nil
}

// Token store

func (r *MemoryRepository) UpsertToken(ctx context.Context, token string, ownerUserID int64, deviceClass string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.tokens[token]; ok {
		existing.OwnerUserID = ownerUserID
		existing.DeviceClass = deviceClass
		existing.LastUsedAt = now
		return nil
	}

	r.nextTokenID++
	r.tokens[token] = &domain.DeviceToken{
		ID:          r.nextTokenID,
		Token:       token,
		OwnerUserID: ownerUserID,
		DeviceClass: deviceClass,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	return nil
}

func (r *MemoryRepository) EvictExcessTokens(ctx context.Context, ownerUserID int64, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var owned []*domain.DeviceToken
	for _, t := range r.tokens {
		if t.OwnerUserID == ownerUserID {
			owned = append(owned, t)
		}
	}
	if len(owned) <= keep {
		return 0, nil
	}

	sortMostRecentFirst(owned)
	var evicted int64
	for _, t := range owned[keep:] {
		delete(r.tokens, t.Token)
		evicted++
	}
	return evicted, nil
}

func (r *MemoryRepository) TokensFor(ctx context.Context, target int64) ([]domain.DeviceToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.DeviceToken
	for _, t := range r.tokens {
		if t.Token == "" {
			continue
		}
		if target != domain.BroadcastUserID && t.OwnerUserID != target {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) GetToken(ctx context.Context, token string) (*domain.DeviceToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (r *MemoryRepository) DeleteToken(ctx context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token]; !ok {
		return false, nil
	}
	delete(r.tokens, token)
	return true, nil
}

func (r *MemoryRepository) TouchToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[token]; ok {
		t.LastUsedAt = r.now()
	}
	return nil
}

// Ping satisfies the readiness check
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func sortMostRecentFirst(tokens []*domain.DeviceToken) {
	sort.Slice(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		return a.ID > b.ID
	})
}

func copyNotification(n *domain.Notification) *domain.Notification {
	c := *n
	if n.ReferenceID != nil {
		id := *n.ReferenceID
		c.ReferenceID = &id
	}
	return &c
}
