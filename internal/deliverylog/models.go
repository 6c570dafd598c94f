// Package deliverylog records every outbound delivery attempt.
package deliverylog

import "time"

// Kind is the type of message delivered.
type Kind string

const (
	KindInvite Kind = "invite"
	KindReport Kind = "report"
)

// Delivery is one attempt to send a message to one recipient.
type Delivery struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	TeamID    string    `json:"team_id"`
	CycleID   string    `json:"cycle_id"`
	MemberID  string    `json:"member_id"`
	Recipient string    `json:"recipient"`
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary counts a cycle's deliveries by outcome.
type Summary struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}
