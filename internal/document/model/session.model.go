package model

import "time"

// Session is a presence row; (DocumentID, UserID) is its upsert key.
type Session struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	LastSeen   time.Time `json:"last_seen"`
}

type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// ActiveSession is one row of the active users view. Profile is nil when the lookup failed.
type ActiveSession struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
	Profile  *Profile  `json:"profile,omitempty"`
}
