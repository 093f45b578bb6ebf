package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/domain"
)

// DisplayAdapter renders normalized items in the chat UI library's shape
type DisplayAdapter struct {
	Customer     domain.DisplayUser
	Counterparty domain.DisplayUser
}

func NewDisplayAdapter(customer, counterparty domain.DisplayUser) *DisplayAdapter {
	return &DisplayAdapter{Customer: customer, Counterparty: counterparty}
}

// ToDisplayItem returns false for items that must not be rendered
func (a *DisplayAdapter) ToDisplayItem(item domain.NormalizedItem) (*domain.DisplayMessage, bool) {
	if item.ID == "" ||
		!item.TransportDetails.Direction.Valid() ||
		!domain.ValidSentTime(item.TransportDetails.SentTime) {
		return nil, false
	}

	msg := &domain.DisplayMessage{
		ID:        item.ID,
		Text:      item.Content.Data,
		CreatedAt: item.SentAt(),
		User:      a.userFor(item),
	}

	switch item.Status() {
	case domain.StatusSending:
		msg.Pending = true
	case domain.StatusSendFailed:
		msg.Failed = true
	case domain.StatusSendSuccess, domain.StatusRead:
		msg.Sent = true
	}
	if item.ReceiptType() != domain.ReceiptNone {
		msg.Received = true
	}

	if item.Kind == domain.KindEvent {
		text, ok := eventText(item)
		if !ok {
			return nil, false
		}
		msg.Text = text
		msg.System = true
		return msg, true
	}

	if item.Content.Type == domain.ContentTypeInteractive {
		applyInteractive(msg, item.Content.Data)
	}
	return msg, true
}

// AdaptRaw passes display-shaped values through unchanged and normalizes anything else
func (a *DisplayAdapter) AdaptRaw(raw json.RawMessage) (*domain.DisplayMessage, bool) {
	if msg, ok := decodeDisplayShape(raw); ok {
		return msg, true
	}
	entry := Classify(raw, "")
	if entry.Kind != EntryItem {
		return nil, false
	}
	return a.ToDisplayItem(entry.Item)
}

// DisplayList renders a reconciled snapshot, skipping items with no visual form
func (a *DisplayAdapter) DisplayList(items []domain.NormalizedItem) []domain.DisplayMessage {
	out := make([]domain.DisplayMessage, 0, len(items))
	for _, it := range items {
		if msg, ok := a.ToDisplayItem(it); ok {
			out = append(out, *msg)
		}
	}
	return out
}

func (a *DisplayAdapter) userFor(item domain.NormalizedItem) domain.DisplayUser {
	if item.TransportDetails.Direction == domain.DirectionOutgoing {
		return a.Customer
	}
	u := a.Counterparty
	if item.Participant.DisplayName != "" {
		u.Name = item.Participant.DisplayName
	}
	return u
}

// eventText returns the system line for events worth showing in the transcript
func eventText(item domain.NormalizedItem) (string, bool) {
	name := item.Participant.DisplayName
	if name == "" {
		name = "Participant"
	}
	switch item.Content.Type {
	case domain.ContentTypeParticipantJoined:
		return fmt.Sprintf("%s has joined the chat", name), true
	case domain.ContentTypeParticipantLeft:
		return fmt.Sprintf("%s has left the chat", name), true
	case domain.ContentTypeTransferSucceeded:
		return "Chat transferred", true
	case domain.ContentTypeTransferFailed:
		return "Chat transfer failed", true
	case domain.ContentTypeChatEnded:
		return "Chat has ended", true
	}
	return "", false
}

// Undecodable templates degrade to an unsupported bubble carrying the raw data
func applyInteractive(msg *domain.DisplayMessage, data string) {
	im, err := dto.DecodeInteractive(data)
	if err != nil {
		msg.Unsupported = true
		return
	}
	c := im.Data.Content
	msg.Text = c.Title
	if c.Subtitle != "" {
		msg.Text += "\n" + c.Subtitle
	}
	for _, el := range c.Elements {
		msg.QuickReplies = append(msg.QuickReplies, domain.QuickReply{Title: el.Title, Value: el.Title})
	}
}

type displayShape struct {
	ID        *string          `json:"_id"`
	Text      *string          `json:"text"`
	CreatedAt *json.RawMessage `json:"createdAt"`
	User      *json.RawMessage `json:"user"`
}

func decodeDisplayShape(raw json.RawMessage) (*domain.DisplayMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, false
	}
	for _, k := range []string{"_id", "text", "createdAt", "user"} {
		if _, ok := keys[k]; !ok {
			return nil, false
		}
	}

	var shape displayShape
	if err := json.Unmarshal(trimmed, &shape); err != nil {
		return nil, false
	}
	if shape.ID == nil || *shape.ID == "" || shape.Text == nil || shape.CreatedAt == nil || shape.User == nil {
		return nil, false
	}
	var created time.Time
	if err := json.Unmarshal(*shape.CreatedAt, &created); err != nil {
		return nil, false
	}
	if u := bytes.TrimSpace(*shape.User); len(u) == 0 || u[0] != '{' {
		return nil, false
	}

	var msg domain.DisplayMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}
