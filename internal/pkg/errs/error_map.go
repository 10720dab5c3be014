/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room, Message, Permission and Attachment Errors
	ErrRoomInvalid:           {Code: ErrRoomInvalid, Message: "This conversation cannot be created.", Status: http.StatusBadRequest},
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Chat room not found.", Status: http.StatusNotFound},
	ErrNotParticipant:        {Code: ErrNotParticipant, Message: "You are not a member of this conversation.", Status: http.StatusForbidden},
	ErrRoomReadOnly:          {Code: ErrRoomReadOnly, Message: "Only organisers can post in this channel.", Status: http.StatusForbidden},
	ErrRoomArchived:          {Code: ErrRoomArchived, Message: "This conversation has been archived.", Status: http.StatusGone},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long.", Status: http.StatusBadRequest},
	ErrMessageEmpty:          {Code: ErrMessageEmpty, Message: "Message is empty.", Status: http.StatusBadRequest},
	ErrMessageTypeInvalid:    {Code: ErrMessageTypeInvalid, Message: "Unsupported message type.", Status: http.StatusBadRequest},

	ErrChatNotPermitted:       {Code: ErrChatNotPermitted, Message: "Your role cannot start a conversation with this user.", Status: http.StatusForbidden},
	ErrSpecializationMissing:  {Code: ErrSpecializationMissing, Message: "A training specialization is required for this conversation.", Status: http.StatusForbidden},
	ErrSpecializationMismatch: {Code: ErrSpecializationMismatch, Message: "You do not share a training specialization with this user.", Status: http.StatusForbidden},
	ErrApprovalRequired:       {Code: ErrApprovalRequired, Message: "This conversation needs administrative approval. Send a chat request.", Status: http.StatusForbidden},
	ErrSelfChat:               {Code: ErrSelfChat, Message: "You cannot start a conversation with yourself.", Status: http.StatusBadRequest},
	ErrApprovalNotRequired:    {Code: ErrApprovalNotRequired, Message: "No approval needed. You can start this conversation directly.", Status: http.StatusConflict},

	ErrRequestNotFound: {Code: ErrRequestNotFound, Message: "Chat request not found.", Status: http.StatusNotFound},
	ErrRequestResolved: {Code: ErrRequestResolved, Message: "This chat request was already handled.", Status: http.StatusConflict},
	ErrNotApprover:     {Code: ErrNotApprover, Message: "You cannot review chat requests.", Status: http.StatusForbidden},

	ErrFileSizeTooLarge:     {Code: ErrFileSizeTooLarge, Message: "File is too large.", Status: http.StatusBadRequest},
	ErrFileTypeInvalid:      {Code: ErrFileTypeInvalid, Message: "This file type is not supported.", Status: http.StatusBadRequest},
	ErrAttachmentKeyInvalid: {Code: ErrAttachmentKeyInvalid, Message: "Invalid attachment.", Status: http.StatusBadRequest},
	ErrAttachmentsDisabled:  {Code: ErrAttachmentsDisabled, Message: "Attachments are not available.", Status: http.StatusServiceUnavailable},

	// 3xxx: User, Session, and Security Errors
	ErrSessionKicked: {Code: ErrSessionKicked, Message: "You were signed in on too many devices."},
	ErrUnauthorized:  {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrUserNotFound:  {Code: ErrUserNotFound, Message: "Account not found.", Status: http.StatusNotFound},

	// 5xxx: Internal System Errors
	ErrUnknown:           {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Message: "File upload failed. Please try again.", Status: http.StatusBadGateway},
}
