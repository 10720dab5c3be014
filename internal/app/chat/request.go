package chat

import (
	"fmt"
	"time"
)

// RequestStatus is the state of an approval request.
type RequestStatus uint8

const (
	RequestPending RequestStatus = iota + 1
	RequestApproved
	RequestDenied
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestApproved:
		return "approved"
	case RequestDenied:
		return "denied"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// IsTerminal reports whether the request has been resolved.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestDenied
}

// ParseRequestStatus converts the stored text form of a request status.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch s {
	case "pending":
		return RequestPending, nil
	case "approved":
		return RequestApproved, nil
	case "denied":
		return RequestDenied, nil
	}
	return 0, fmt.Errorf("unknown request status %q", s)
}

func (s RequestStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RequestStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseRequestStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Request asks an approver to allow a direct conversation that a rule gates behind approval.
type Request struct {
	ID           string        `json:"id"`
	RequesterID  string        `json:"requesterId"`
	TargetUserID string        `json:"targetUserId"`
	Reason       string        `json:"reason"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`

	// Set once the request reaches a terminal state.
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	// RoomID is the direct room created when the request was approved.
	RoomID string `json:"roomId,omitempty"`
}
