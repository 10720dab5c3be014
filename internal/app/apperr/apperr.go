/*
Package apperr translates domain errors into the business codes of package errs, for the
HTTP handlers and the WebSocket session alike.

Permission denials keep their reason so the client can render specific guidance. Backing
store failures and anything unrecognised collapse to ErrUnknown ("try again").
*/
package apperr

import (
	"errors"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/msgsync"
	"trainchat/internal/app/permission"
	"trainchat/internal/app/provision"
	"trainchat/internal/app/store"
	"trainchat/internal/pkg/errs"
)

var sentinels = []struct {
	err  error
	code int
}{
	{msgsync.ErrNotParticipant, errs.ErrNotParticipant},
	{msgsync.ErrReadOnlyRoom, errs.ErrRoomReadOnly},
	{msgsync.ErrEmptyContent, errs.ErrMessageEmpty},
	{msgsync.ErrRoomArchived, errs.ErrRoomArchived},
	{provision.ErrApprovalNotRequired, errs.ErrApprovalNotRequired},
	{provision.ErrNotApprover, errs.ErrNotApprover},
	{provision.ErrRequestResolved, errs.ErrRequestResolved},
}

// From maps err to a CustomError. A missing row is reported as ErrRoomNotFound; use
// FromLookup where the missing entity is something else.
func From(err error) *errs.CustomError {
	return FromLookup(err, errs.ErrRoomNotFound)
}

// FromLookup is From with store.ErrNotFound mapped to notFoundCode.
func FromLookup(err error, notFoundCode int) *errs.CustomError {
	if err == nil {
		return nil
	}

	var custom *errs.CustomError
	if errors.As(err, &custom) {
		return custom
	}

	var denied *permission.DeniedError
	if errors.As(err, &denied) {
		return FromDenial(denied.Reason)
	}

	var invalid *chat.ValidationError
	if errors.As(err, &invalid) {
		return fromValidation(invalid)
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return errs.NewError(s.code)
		}
	}

	if errors.Is(err, store.ErrNotFound) {
		return errs.NewError(notFoundCode)
	}

	return errs.NewError(errs.ErrUnknown, err)
}

// FromDenial maps a permission reason to its business code.
func FromDenial(reason permission.Reason) *errs.CustomError {
	switch reason {
	case permission.ReasonSpecializationMissing:
		return errs.NewError(errs.ErrSpecializationMissing)
	case permission.ReasonSpecializationMismatch:
		return errs.NewError(errs.ErrSpecializationMismatch)
	case permission.ReasonApprovalRequired:
		return errs.NewError(errs.ErrApprovalRequired)
	case permission.ReasonSameUser:
		return errs.NewError(errs.ErrSelfChat)
	default:
		return errs.NewError(errs.ErrChatNotPermitted)
	}
}

func fromValidation(v *chat.ValidationError) *errs.CustomError {
	switch v.Field {
	case "content":
		return errs.NewError(errs.ErrMessageContentTooLong)
	case "type":
		return errs.NewError(errs.ErrMessageTypeInvalid)
	default:
		return errs.NewError(errs.ErrRoomInvalid)
	}
}
