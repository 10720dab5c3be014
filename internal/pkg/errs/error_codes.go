/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room, Message, Permission and Attachment Errors
const (
	// ErrRoomInvalid indicates that a room could not be created because its shape is invalid.
	ErrRoomInvalid = 2101

	// ErrRoomNotFound indicates that the room does not exist.
	ErrRoomNotFound = 2103

	// ErrNotParticipant indicates that the user is not a member of the room.
	ErrNotParticipant = 2105

	// ErrRoomReadOnly indicates that the user may not post in a read-only group.
	ErrRoomReadOnly = 2106

	// ErrRoomArchived indicates that the room has been archived.
	ErrRoomArchived = 2107

	// ErrMessageContentTooLong indicates that the user's message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates that the message has no content.
	ErrMessageEmpty = 2202

	// ErrMessageTypeInvalid indicates an unknown message type.
	ErrMessageTypeInvalid = 2203

	// ErrChatNotPermitted indicates that no access rule covers the pair of roles.
	ErrChatNotPermitted = 2301

	// ErrSpecializationMissing indicates that a shared specialization is required and one side has none.
	ErrSpecializationMissing = 2302

	// ErrSpecializationMismatch indicates that both users have specializations but none is shared.
	ErrSpecializationMismatch = 2303

	// ErrApprovalRequired indicates that the conversation must be approved first.
	ErrApprovalRequired = 2304

	// ErrSelfChat indicates an attempt to open a conversation with oneself.
	ErrSelfChat = 2305

	// ErrApprovalNotRequired indicates a chat request for a pair that may chat right away.
	ErrApprovalNotRequired = 2306

	// ErrRequestNotFound indicates that the chat request does not exist.
	ErrRequestNotFound = 2401

	// ErrRequestResolved indicates that the chat request was already approved or denied.
	ErrRequestResolved = 2402

	// ErrNotApprover indicates that the user may not act on chat requests.
	ErrNotApprover = 2403

	// ErrFileSizeTooLarge indicates that the attachment exceeds the size limit.
	ErrFileSizeTooLarge = 2501

	// ErrFileTypeInvalid indicates that the attachment type is not accepted.
	ErrFileTypeInvalid = 2502

	// ErrAttachmentKeyInvalid indicates an attachment key outside the room's namespace.
	ErrAttachmentKeyInvalid = 2503

	// ErrAttachmentsDisabled indicates that no object storage is configured.
	ErrAttachmentsDisabled = 2504
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrSessionKicked indicates that the current client connection has been terminated.
	ErrSessionKicked = 3004

	// ErrUnauthorized indicates a missing, malformed or expired identity token.
	ErrUnauthorized = 3101

	// ErrUserNotFound indicates that the user is not known to the directory.
	ErrUserNotFound = 3102
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates that the object storage request failed.
	ErrFileStorageFailed = 5001
)
