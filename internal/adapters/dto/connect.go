// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

import (
	"encoding/json"
	"strings"
)

// Wire Type values sent by the participant service
const (
	WireTypeMessage           = "MESSAGE"
	WireTypeEvent             = "EVENT"
	WireTypeAttachment        = "ATTACHMENT"
	WireTypeConnectionAck     = "CONNECTION_ACK"
	WireTypeMessageMetadata   = "MESSAGEMETADATA"
	WireTypeTyping            = "TYPING"
	WireTypeParticipantJoined = "PARTICIPANT_JOINED"
	WireTypeParticipantLeft   = "PARTICIPANT_LEFT"
	WireTypeChatEnded         = "CHAT_ENDED"
	WireTypeTransferSucceeded = "TRANSFER_SUCCEEDED"
	WireTypeTransferFailed    = "TRANSFER_FAILED"
	WireTypeMessageDelivered  = "MESSAGE_DELIVERED"
	WireTypeMessageRead       = "MESSAGE_READ"
)

// WireItem is one heterogeneous transcript entry as delivered by the transport
// Ref: https://docs.aws.amazon.com/connect-participant/latest/APIReference/API_Item.html
type WireItem struct {
	ID               string           `json:"Id"`
	Type             string           `json:"Type"`
	Content          string           `json:"Content,omitempty"`
	ContentType      string           `json:"ContentType"`
	DisplayName      string           `json:"DisplayName,omitempty"`
	ParticipantID    string           `json:"ParticipantId,omitempty"`
	ParticipantRole  string           `json:"ParticipantRole,omitempty"`
	AbsoluteTime     string           `json:"AbsoluteTime"` // ISO-8601 UTC
	MessageMetadata  *MessageMetadata `json:"MessageMetadata,omitempty"`
	Attachments      []Attachment     `json:"Attachments,omitempty"`
	RelatedContactID string           `json:"RelatedContactId,omitempty"`
	ContactID        string           `json:"ContactId,omitempty"`
}

// MessageMetadata carries receipts for a previously sent message
type MessageMetadata struct {
	MessageID string    `json:"MessageId"`
	Receipts  []Receipt `json:"Receipts,omitempty"`
}

// Receipt is a per-recipient delivery/read acknowledgment
type Receipt struct {
	DeliveredTimestamp     string `json:"DeliveredTimestamp,omitempty"`
	ReadTimestamp          string `json:"ReadTimestamp,omitempty"`
	RecipientParticipantID string `json:"RecipientParticipantId"`
}

// Attachment describes an uploaded file referenced by an ATTACHMENT item
type Attachment struct {
	AttachmentID   string `json:"AttachmentId"`
	AttachmentName string `json:"AttachmentName"`
	ContentType    string `json:"ContentType"`
	Status         string `json:"Status,omitempty"` // "APPROVED", "REJECTED", "IN_PROGRESS"
}

// receiptEventBody is the Content of message.delivered / message.read events
type receiptEventBody struct {
	MessageID string `json:"messageId"`
}

// IsReceiptUpdate reports whether this item only acknowledges another message
func (w *WireItem) IsReceiptUpdate() bool {
	switch w.Type {
	case WireTypeMessageMetadata, WireTypeMessageDelivered, WireTypeMessageRead:
		return true
	}
	return w.ContentType == "application/vnd.amazonaws.connect.event.message.delivered" ||
		w.ContentType == "application/vnd.amazonaws.connect.event.message.read"
}

// ReceiptTarget returns the id of the message a receipt update refers to
func (w *WireItem) ReceiptTarget() string {
	if w.MessageMetadata != nil && w.MessageMetadata.MessageID != "" {
		return w.MessageMetadata.MessageID
	}
	if w.Content == "" {
		return ""
	}
	var body receiptEventBody
	if err := json.Unmarshal([]byte(w.Content), &body); err != nil {
		return ""
	}
	return body.MessageID
}

// IsRehydrated reports whether the item was carried over from a prior contact
func (w *WireItem) IsRehydrated() bool {
	return strings.TrimSpace(w.RelatedContactID) != ""
}

// TranscriptPage is one page of GetTranscript output
// Items stay raw so the reconciler can validate each one independently
type TranscriptPage struct {
	InitialContactID string            `json:"InitialContactId,omitempty"`
	Transcript       []json.RawMessage `json:"Transcript"`
	NextToken        string            `json:"NextToken,omitempty"`
}

// SendMessageRequest is the participant service SendMessage payload
type SendMessageRequest struct {
	ContentType string `json:"ContentType"`
	Content     string `json:"Content"`
	ClientToken string `json:"ClientToken,omitempty"`
}

// SendEventRequest is the participant service SendEvent payload
type SendEventRequest struct {
	ContentType string `json:"ContentType"`
	Content     string `json:"Content,omitempty"`
	ClientToken string `json:"ClientToken,omitempty"`
}

// SendResponse is returned by SendMessage / SendEvent
type SendResponse struct {
	ID           string `json:"Id"`
	AbsoluteTime string `json:"AbsoluteTime"`
}

// GetTranscriptRequest asks for one page of the transcript, oldest first
type GetTranscriptRequest struct {
	MaxResults    int    `json:"MaxResults,omitempty"`
	NextToken     string `json:"NextToken,omitempty"`
	ScanDirection string `json:"ScanDirection,omitempty"` // "BACKWARD" | "FORWARD"
	SortOrder     string `json:"SortOrder,omitempty"`     // "ASCENDING" | "DESCENDING"
	ContactID     string `json:"ContactId,omitempty"`
}

// StartChatRequest is the body accepted by POST /start-chat
type StartChatRequest struct {
	CustomerName string `json:"customerName"`
}

// StartChatResult is returned in the data envelope of POST /start-chat
type StartChatResult struct {
	ContactID        string `json:"ContactId"`
	ParticipantID    string `json:"ParticipantId"`
	ParticipantToken string `json:"ParticipantToken"`
}

// StartChatContactRequest is forwarded to the upstream StartChatContact API
type StartChatContactRequest struct {
	InstanceID         string `json:"InstanceId"`
	ContactFlowID      string `json:"ContactFlowId"`
	ParticipantDetails struct {
		DisplayName string `json:"DisplayName"`
	} `json:"ParticipantDetails"`
}
