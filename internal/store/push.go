package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/organizer/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var expiration sql.NullTime
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &expiration, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expiration.Valid {
		e := expiration.Time
		sub.ExpirationTime = &e
	}
	return &sub, nil
}

const subscriptionCols = `id, user_id, endpoint, p256dh_key, auth_key, expiration_time, created_at`

// Upsert stores the user's subscription, replacing any previous one. A user
// holds at most one subscription; the latest subscribe wins.
func (s *PushStore) Upsert(userID int64, endpoint, p256dh, auth string, expirationTime *time.Time) (*model.PushSubscription, error) {
	var expiration sql.NullTime
	if expirationTime != nil {
		expiration = sql.NullTime{Time: expirationTime.UTC(), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key, expiration_time)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   endpoint = excluded.endpoint,
		   p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key,
		   expiration_time = excluded.expiration_time`,
		userID, endpoint, p256dh, auth, expiration,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	return s.GetByUser(userID)
}

func (s *PushStore) GetByUser(userID int64) (*model.PushSubscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE user_id = ?`, userID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) DeleteByUser(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// DeleteIfEndpoint removes the user's subscription only when its endpoint
// matches. A no-op when absent or mismatched, so unsubscribe is idempotent.
func (s *PushStore) DeleteIfEndpoint(userID int64, endpoint string) error {
	_, err := s.db.Exec(
		`DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`,
		userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
