package database

import "time"

// Setting is a key/value row for process-wide state that must survive
// restarts, such as the fernet key used to sign session resume tokens.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// SessionRecord is the audit row for one terminal session. It is written when
// a session starts and finalized when the session closes.
type SessionRecord struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	SessionID  string     `gorm:"uniqueIndex" json:"session_id"`
	RemoteAddr string     `json:"remote_addr"`
	State      string     `json:"state"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}
