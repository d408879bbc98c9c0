package model

import (
	"encoding/json"
	"time"
)

// ActivityEvent is an append-only record of something a user did.
type ActivityEvent struct {
	ID        string
	UserID    string
	Action    string
	Category  string
	Page      *string
	Metadata  json.RawMessage
	SessionID *string
	IPAddress *string
	UserAgent *string
	Timestamp time.Time
}
