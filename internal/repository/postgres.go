package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/churchapp/notifications/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const notificationColumns = `n.id, n.user_id, n.title, n.body, n.category, n.image_url,
		n.reference_id, n.reference_type, n.reference_url, n.created_at`

// PostgresRepository implements domain.NotificationRepository and domain.TokenRepository using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the tables and indexes if they are missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// CreateNotification inserts a notification, failing with domain.ErrDuplicate when
// another notification already carries the same reference pair
func (r *PostgresRepository) CreateNotification(ctx context.Context, params domain.CreateNotificationParams) (*domain.Notification, error) {
	query := `
		INSERT INTO app_notifications AS n (user_id, title, body, category, image_url, reference_id, reference_type, reference_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + notificationColumns

	row := r.db.QueryRow(ctx, query,
		params.TargetUserID,
		params.Title,
		params.Body,
		string(params.Category),
		nullString(params.ImageURL),
		params.ReferenceID,
		nullString(string(params.ReferenceType)),
		nullString(params.ReferenceURL),
	)

	n, err := scanNotification(row, false)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// GetNotification retrieves a notification by ID
func (r *PostgresRepository) GetNotification(ctx context.Context, id int64) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM app_notifications n WHERE n.id = $1`
	return scanNotification(r.db.QueryRow(ctx, query, id), false)
}

// ListNotifications returns one page of notifications and the total match count
func (r *PostgresRepository) ListNotifications(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	filter.Normalize()

	var (
		args       []interface{}
		conditions []string
		join       string
		readExpr   = "FALSE"
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ViewerID != nil {
		viewer := arg(*filter.ViewerID)
		join = `LEFT JOIN app_notification_reads r ON r.notification_id = n.id AND r.user_id = ` + viewer
		readExpr = "r.id IS NOT NULL"
		conditions = append(conditions, fmt.Sprintf("(n.user_id = %s OR n.user_id = 0)", viewer))

		switch filter.ReadState {
		case domain.ReadStateRead:
			conditions = append(conditions, "r.id IS NOT NULL")
		case domain.ReadStateUnread:
			conditions = append(conditions, "r.id IS NULL")
		}
	}
	if filter.Category != "" {
		conditions = append(conditions, "n.category = "+arg(string(filter.Category)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM app_notifications n %s %s`, join, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	direction := "DESC"
	if filter.Order == domain.SortOldestFirst {
		direction = "ASC"
	}
	limit := arg(filter.PerPage)
	offset := arg(filter.Offset())
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM app_notifications n %s
		%s
		ORDER BY n.created_at %s, n.id %s
		LIMIT %s OFFSET %s`,
		notificationColumns, readExpr, join, where, direction, direction, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	items := []*domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows, true)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, total, nil
}

// DeleteNotification deletes a notification and, by cascade, its read records
func (r *PostgresRepository) DeleteNotification(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM app_notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRead records a read for a notification visible to the user
func (r *PostgresRepository) MarkRead(ctx context.Context, userID, notificationID int64) (bool, error) {
	query := `
		INSERT INTO app_notification_reads (user_id, notification_id)
		SELECT $1::bigint, n.id FROM app_notifications n
		WHERE n.id = $2 AND (n.user_id = $1 OR n.user_id = 0)
		ON CONFLICT (user_id, notification_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, userID, notificationID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// nothing inserted: either already read or not visible
	var visible bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM app_notifications WHERE id = $1 AND (user_id = $2 OR user_id = 0))`,
		notificationID, userID,
	).Scan(&visible)
	if err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	if !visible {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// MarkAllRead records reads for every unread notification visible to the user
func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	query := `
		INSERT INTO app_notification_reads (user_id, notification_id)
		SELECT $1::bigint, n.id FROM app_notifications n
		WHERE n.user_id = $1 OR n.user_id = 0
		ON CONFLICT (user_id, notification_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts the user's own and broadcast notifications without a read record
func (r *PostgresRepository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM app_notifications n
		LEFT JOIN app_notification_reads r ON r.notification_id = n.id AND r.user_id = $1
		WHERE (n.user_id = $1 OR n.user_id = 0) AND r.id IS NULL
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// UpsertToken inserts a token or reassigns it to the latest owner in a single statement
func (r *PostgresRepository) UpsertToken(ctx context.Context, token string, ownerUserID int64, deviceClass string) error {
	query := `
		INSERT INTO app_push_tokens (user_id, token, device_type, last_used)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    device_type = EXCLUDED.device_type,
		    last_used = NOW(),
		    updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, ownerUserID, token, nullString(deviceClass)); err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

// EvictExcessTokens keeps only the owner's keep most recently used tokens
func (r *PostgresRepository) EvictExcessTokens(ctx context.Context, ownerUserID int64, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM app_push_tokens
		WHERE user_id = $1
		AND id NOT IN (
			SELECT id FROM app_push_tokens
			WHERE user_id = $1
			ORDER BY last_used DESC, id DESC
			LIMIT $2
		)
	`
	tag, err := r.db.Exec(ctx, query, ownerUserID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to evict tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TokensFor returns the target user's tokens, or every token for a broadcast
func (r *PostgresRepository) TokensFor(ctx context.Context, target int64) ([]domain.DeviceToken, error) {
	query := `
		SELECT id, token, user_id, device_type, created_at, last_used
		FROM app_push_tokens
		WHERE token <> ''
	`
	var args []interface{}
	if target != domain.BroadcastUserID {
		query += ` AND user_id = $1`
		args = append(args, target)
	}
	query += ` ORDER BY id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.DeviceToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	return tokens, nil
}

// GetToken retrieves a token row
func (r *PostgresRepository) GetToken(ctx context.Context, token string) (*domain.DeviceToken, error) {
	query := `
		SELECT id, token, user_id, device_type, created_at, last_used
		FROM app_push_tokens WHERE token = $1
	`
	return scanToken(r.db.QueryRow(ctx, query, token))
}

// DeleteToken removes a token if present
func (r *PostgresRepository) DeleteToken(ctx context.Context, token string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM app_push_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchToken marks a token as used now
func (r *PostgresRepository) TouchToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `UPDATE app_push_tokens SET last_used = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

// Helper functions for scanning rows

func scanNotification(row pgx.Row, withRead bool) (*domain.Notification, error) {
	var (
		n             domain.Notification
		category      string
		imageURL      *string
		referenceType *string
		referenceURL  *string
	)
	dest := []interface{}{
		&n.ID,
		&n.TargetUserID,
		&n.Title,
		&n.Body,
		&category,
		&imageURL,
		&n.ReferenceID,
		&referenceType,
		&referenceURL,
		&n.CreatedAt,
	}
	if withRead {
		dest = append(dest, &n.IsRead)
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	n.Category = domain.Category(category)
	n.ImageURL = deref(imageURL)
	n.ReferenceType = domain.ReferenceType(deref(referenceType))
	n.ReferenceURL = deref(referenceURL)
	return &n, nil
}

func scanToken(row pgx.Row) (*domain.DeviceToken, error) {
	var (
		t           domain.DeviceToken
		deviceClass *string
	)
	err := row.Scan(
		&t.ID,
		&t.Token,
		&t.OwnerUserID,
		&deviceClass,
		&t.CreatedAt,
		&t.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, err
	}
	t.DeviceClass = deref(deviceClass)
	return &t, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
