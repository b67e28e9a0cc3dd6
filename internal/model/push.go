package model

import "time"

// PushSubscription is a user's web-push channel. A user holds at most one;
// subscribing again overwrites the previous record.
type PushSubscription struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Endpoint       string     `json:"endpoint"`
	P256dhKey      string     `json:"p256dh_key"`
	AuthKey        string     `json:"auth_key"`
	ExpirationTime *time.Time `json:"expiration_time"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Valid reports whether the subscription carries everything needed to
// encrypt and deliver a payload.
func (s *PushSubscription) Valid() bool {
	return s != nil && s.Endpoint != "" && s.P256dhKey != "" && s.AuthKey != ""
}
