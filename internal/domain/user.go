package domain

import (
	"time"
)

// User identifies a client of the server surface. Server sessions are
// attributed to users via the anonymous identity cookie; the CLI runs
// under a fixed local user ID.
type User struct {
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// LocalUserID attributes sessions started from the CLI.
const LocalUserID = "local"
