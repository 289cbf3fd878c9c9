package auth

import (
	"time"

	"github.com/google/uuid"
)

// LoginSession is the audit row written for every successful login.
type LoginSession struct {
	ID        string
	UserID    uuid.UUID
	ExpiresAt time.Time
	IP        string
	UserAgent string
}
