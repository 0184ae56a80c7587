package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/menolisa/billing/internal/model"
)

// NotificationStore persists append-only in-app notifications.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationCols = `id, account_id, type, title, message, priority, read_at, created_at`

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var readAt sql.NullTime
	err := scanner.Scan(&n.ID, &n.AccountID, &n.Type, &n.Title, &n.Message, &n.Priority, &readAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	return &n, nil
}

func (s *NotificationStore) Create(accountID, notifType, title, message, priority string, now time.Time) (*model.Notification, error) {
	result, err := s.db.Exec(
		`INSERT INTO notifications (account_id, type, title, message, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		accountID, notifType, title, message, priority, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *NotificationStore) GetByID(id int64) (*model.Notification, error) {
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ExistsSince reports whether the account already has a notification of the
// given type created at or after the given instant. The reminder scheduler
// uses this with the start of the current UTC day as its dedup key.
func (s *NotificationStore) ExistsSince(accountID, notifType string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications
		 WHERE account_id = ? AND type = ? AND created_at >= ?`,
		accountID, notifType, since.UTC(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check notification exists: %w", err)
	}
	return count > 0, nil
}

func (s *NotificationStore) ListByAccount(accountID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+notificationCols+` FROM notifications
		 WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifs []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifs = append(notifs, *n)
	}
	return notifs, rows.Err()
}

func (s *NotificationStore) UnreadCount(accountID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications WHERE account_id = ? AND read_at IS NULL`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationStore) MarkAllRead(accountID string, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE notifications SET read_at = ? WHERE account_id = ? AND read_at IS NULL`,
		now.UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
