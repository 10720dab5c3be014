package permission

// Reason explains a Decision. Every denial carries a reason distinct enough for the client
// to render specific guidance.
type Reason uint8

const (
	// ReasonNone accompanies an immediate allow.
	ReasonNone Reason = iota

	// ReasonNoRule means no access rule covers the role pair.
	ReasonNoRule

	// ReasonSpecializationMissing means the rule needs a shared specialization and at
	// least one side has none.
	ReasonSpecializationMissing

	// ReasonSpecializationMismatch means both sides have specializations but none overlap.
	ReasonSpecializationMismatch

	// ReasonApprovalRequired accompanies an allow that must go through a ChatRequest.
	ReasonApprovalRequired

	// ReasonSameUser means source and target are the same user.
	ReasonSameUser
)

var reasonText = map[Reason]string{
	ReasonNone:                   "",
	ReasonNoRule:                 "role pair not permitted",
	ReasonSpecializationMissing:  "specialization required but missing",
	ReasonSpecializationMismatch: "no shared specialization",
	ReasonApprovalRequired:       "administrative approval required",
	ReasonSameUser:               "cannot open a conversation with yourself",
}

// String returns a human-readable reason.
func (r Reason) String() string {
	if text, ok := reasonText[r]; ok {
		return text
	}
	return "unknown"
}

// Code returns a stable machine-readable identifier for the reason.
func (r Reason) Code() string {
	switch r {
	case ReasonNoRule:
		return "no_rule"
	case ReasonSpecializationMissing:
		return "specialization_missing"
	case ReasonSpecializationMismatch:
		return "specialization_mismatch"
	case ReasonApprovalRequired:
		return "approval_required"
	case ReasonSameUser:
		return "same_user"
	default:
		return "none"
	}
}

// Decision is the outcome of a direct-chat permission check.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requiresApproval"`
	Reason           Reason `json:"-"`
}

// Immediate reports whether a direct room may be created right away.
func (d Decision) Immediate() bool {
	return d.Allowed && !d.RequiresApproval
}

func allow() Decision {
	return Decision{Allowed: true}
}

func allowWithApproval() Decision {
	return Decision{Allowed: true, RequiresApproval: true, Reason: ReasonApprovalRequired}
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// DeniedError carries a denial through APIs that return an error. The reason is an expected
// outcome, not a failure.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return "permission denied: " + e.Reason.String()
}
