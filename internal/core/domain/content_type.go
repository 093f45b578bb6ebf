package domain

import "strings"

// Message content types
const (
	ContentTypePlainText           = "text/plain"
	ContentTypeMarkdown            = "text/markdown"
	ContentTypeJSON                = "application/json"
	ContentTypeInteractive         = "application/vnd.amazonaws.connect.message.interactive"
	ContentTypeInteractiveResponse = "application/vnd.amazonaws.connect.message.interactive.response"
)

// Event content types
const (
	ContentTypeTyping                 = "application/vnd.amazonaws.connect.event.typing"
	ContentTypeParticipantJoined      = "application/vnd.amazonaws.connect.event.participant.joined"
	ContentTypeParticipantLeft        = "application/vnd.amazonaws.connect.event.participant.left"
	ContentTypeTransferSucceeded      = "application/vnd.amazonaws.connect.event.transfer.succeeded"
	ContentTypeTransferFailed         = "application/vnd.amazonaws.connect.event.transfer.failed"
	ContentTypeConnectionAcknowledged = "application/vnd.amazonaws.connect.event.connection.acknowledged"
	ContentTypeChatEnded              = "application/vnd.amazonaws.connect.event.chat.ended"
	ContentTypeMessageDelivered       = "application/vnd.amazonaws.connect.event.message.delivered"
	ContentTypeMessageRead            = "application/vnd.amazonaws.connect.event.message.read"
)

var eventContentTypes = map[string]struct{}{
	ContentTypeTyping:                 {},
	ContentTypeParticipantJoined:      {},
	ContentTypeParticipantLeft:        {},
	ContentTypeTransferSucceeded:      {},
	ContentTypeTransferFailed:         {},
	ContentTypeConnectionAcknowledged: {},
	ContentTypeChatEnded:              {},
	ContentTypeMessageDelivered:       {},
	ContentTypeMessageRead:            {},
}

var messageContentTypes = map[string]struct{}{
	ContentTypePlainText:           {},
	ContentTypeMarkdown:            {},
	ContentTypeJSON:                {},
	ContentTypeInteractive:         {},
	ContentTypeInteractiveResponse: {},
}

// Stored lower-case; lookups fold case
var attachmentContentTypes = map[string]struct{}{
	"application/pdf":    {},
	"image/jpeg":         {},
	"image/png":          {},
	"text/plain":         {},
	"text/csv":           {},
	"audio/wav":          {},
	"audio/x-wav":        {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.ms-powerpoint":                                             {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/vnd.ms-excel":                                                  {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
}

// IsRecognizedEvent reports whether contentType is one of the known event types.
// Matching is exact.
func IsRecognizedEvent(contentType string) bool {
	_, ok := eventContentTypes[contentType]
	return ok
}

// IsMessageContentType reports whether contentType carries displayable message text
func IsMessageContentType(contentType string) bool {
	_, ok := messageContentTypes[contentType]
	return ok
}

// IsAttachmentContentType reports whether contentType is an accepted attachment
// MIME type. Matching is case-insensitive.
func IsAttachmentContentType(contentType string) bool {
	_, ok := attachmentContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ok
}

// IsReceiptContentType reports whether contentType is a delivered or read receipt event
func IsReceiptContentType(contentType string) bool {
	return contentType == ContentTypeMessageDelivered || contentType == ContentTypeMessageRead
}

// IsTerminalEvent reports whether contentType closes the conversation
func IsTerminalEvent(contentType string) bool {
	return contentType == ContentTypeChatEnded
}

// IsTypeMessageOrAttachment reports whether kind is rendered as a chat bubble
func IsTypeMessageOrAttachment(kind ItemKind) bool {
	return kind == KindMessage || kind == KindAttachment
}

// IsParticipantAgentOrCustomer reports whether role is a human participant
func IsParticipantAgentOrCustomer(role ParticipantRole) bool {
	return role == RoleAgent || role == RoleCustomer
}

// KindForContentType infers the kind of an item from its content type alone.
// ok is false for unrecognized content types, which are non-displayable.
func KindForContentType(contentType string) (kind ItemKind, ok bool) {
	switch {
	case IsRecognizedEvent(contentType):
		return KindEvent, true
	case IsMessageContentType(contentType):
		return KindMessage, true
	case IsAttachmentContentType(contentType):
		return KindAttachment, true
	}
	return "", false
}
