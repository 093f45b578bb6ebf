// Package domain contains core transcript entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"math"
	"time"
)

// ItemKind classifies a transcript entry
type ItemKind string

const (
	KindMessage    ItemKind = "MESSAGE"
	KindEvent      ItemKind = "EVENT"
	KindAttachment ItemKind = "ATTACHMENT"
)

// ParticipantRole identifies who authored a transcript entry
type ParticipantRole string

const (
	RoleCustomer ParticipantRole = "CUSTOMER"
	RoleAgent    ParticipantRole = "AGENT"
	RoleSystem   ParticipantRole = "SYSTEM"
	RoleUnknown  ParticipantRole = ""
)

// Direction is relative to the customer's own outbound channel,
// not the literal network direction
type Direction string

const (
	DirectionOutgoing Direction = "Outgoing"
	DirectionIncoming Direction = "Incoming"
)

// Valid reports whether d is one of the two known directions
func (d Direction) Valid() bool {
	return d == DirectionOutgoing || d == DirectionIncoming
}

// ItemStatus tracks the delivery lifecycle of an item
type ItemStatus string

const (
	StatusSending     ItemStatus = "Sending"
	StatusSendSuccess ItemStatus = "SendSuccess"
	StatusSendFailed  ItemStatus = "SendFailed"
	StatusRead        ItemStatus = "Read"
)

// ReceiptType is the strongest acknowledgment seen for an item
type ReceiptType string

const (
	ReceiptNone      ReceiptType = ""
	ReceiptDelivered ReceiptType = "delivered"
	ReceiptRead      ReceiptType = "read"
)

// Content is the raw payload and its MIME-like type
type Content struct {
	Data string `json:"data"`
	Type string `json:"type"`
}

// Participant describes the author of an item
type Participant struct {
	ID          string          `json:"id,omitempty"`
	Role        ParticipantRole `json:"role,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
}

// TransportDetails carries ordering and delivery state
type TransportDetails struct {
	Direction          Direction   `json:"direction"`
	SentTime           float64     `json:"sentTime"` // epoch seconds, fractional
	Status             ItemStatus  `json:"status,omitempty"`
	MessageReceiptType ReceiptType `json:"messageReceiptType,omitempty"`
}

// NormalizedItem is the canonical internal representation of one transcript entry
type NormalizedItem struct {
	ID string `json:"id"`
	// LocalID keeps the client-generated id after the server assigned a new one
	LocalID           string           `json:"localId,omitempty"`
	Kind              ItemKind         `json:"kind"`
	Content           Content          `json:"content"`
	Participant       Participant      `json:"participant"`
	TransportDetails  TransportDetails `json:"transportDetails"`
	Version           int              `json:"version"`
	IsOldConversation bool             `json:"isOldConversation,omitempty"`
}

// Status returns the delivery status of the item
func (n NormalizedItem) Status() ItemStatus {
	return n.TransportDetails.Status
}

// ReceiptType returns the receipt state of the item
func (n NormalizedItem) ReceiptType() ReceiptType {
	return n.TransportDetails.MessageReceiptType
}

// SentAt converts the item's sentTime into a time.Time
func (n NormalizedItem) SentAt() time.Time {
	return TimeFromEpochSeconds(n.TransportDetails.SentTime)
}

// IsPending reports whether the item is a local send awaiting confirmation
func (n NormalizedItem) IsPending() bool {
	return n.TransportDetails.Status == StatusSending
}

// DisplayUser is the author shape expected by the chat UI library
type DisplayUser struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// QuickReply is one selectable option rendered under an interactive message
type QuickReply struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// DisplayMessage is the UI-ready rendering of a NormalizedItem
type DisplayMessage struct {
	ID           string       `json:"_id"`
	Text         string       `json:"text"`
	CreatedAt    time.Time    `json:"createdAt"`
	User         DisplayUser  `json:"user"`
	System       bool         `json:"system,omitempty"`
	Pending      bool         `json:"pending,omitempty"`
	Sent         bool         `json:"sent,omitempty"`
	Received     bool         `json:"received,omitempty"`
	Failed       bool         `json:"failed,omitempty"`
	QuickReplies []QuickReply `json:"quickReplies,omitempty"`
	Unsupported  bool         `json:"unsupported,omitempty"`
}

// EpochSeconds converts t into fractional seconds since the Unix epoch
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// TimeFromEpochSeconds is the inverse of EpochSeconds, rounded to the millisecond
func TimeFromEpochSeconds(s float64) time.Time {
	ms := math.Round(s * 1000)
	return time.UnixMilli(int64(ms)).UTC()
}

// ValidSentTime reports whether s can be used as an ordering key
func ValidSentTime(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && s > 0
}
