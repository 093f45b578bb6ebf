package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/domain"
)

// ErrInvalidItem is wrapped by every rejection reason carried in an Entry
var ErrInvalidItem = errors.New("invalid transcript item")

// EntryKind discriminates the outcome of classifying one raw transcript element
type EntryKind int

const (
	EntryInvalid EntryKind = iota
	EntryItem
	EntryReceipt
)

// ReceiptUpdate acknowledges a previously seen item
type ReceiptUpdate struct {
	TargetID string
	Type     domain.ReceiptType
}

// Entry is the typed result of classifying one raw element.
// Exactly one of Item / Receipt / Err is meaningful, selected by Kind.
type Entry struct {
	Kind    EntryKind
	Item    domain.NormalizedItem
	Receipt ReceiptUpdate
	Err     error
}

// OK reports whether the entry carries a usable item or receipt
func (e Entry) OK() bool {
	return e.Kind != EntryInvalid
}

func invalid(format string, args ...any) Entry {
	return Entry{Kind: EntryInvalid, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidItem}, args...)...)}
}

// Classify validates one raw element and converts it into an Entry.
// Two shapes are accepted: the participant service wire shape (Id, Type,
// ContentType, AbsoluteTime...) and the already-normalized shape (content,
// transportDetails). Anything else is invalid.
func Classify(raw json.RawMessage, localParticipantID string) Entry {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return invalid("not an object")
	}

	// encoding/json matches field names case-insensitively, so shape is
	// decided on exact keys before decoding into a struct
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return invalid("decode object: %v", err)
	}

	switch {
	case hasAnyKey(keys, "content", "transportDetails"):
		return classifyNormalized(trimmed)
	case hasAnyKey(keys, "Id", "Type", "ContentType", "AbsoluteTime"):
		return classifyWire(trimmed, localParticipantID)
	}
	return invalid("unknown shape")
}

func hasAnyKey(keys map[string]json.RawMessage, names ...string) bool {
	for _, n := range names {
		if _, ok := keys[n]; ok {
			return true
		}
	}
	return false
}

// normalizedShape checks field presence and JSON types before the real decode
type normalizedShape struct {
	Content *struct {
		Data *string `json:"data"`
		Type *string `json:"type"`
	} `json:"content"`
	TransportDetails *struct {
		SentTime  *float64 `json:"sentTime"`
		Direction *string  `json:"direction"`
	} `json:"transportDetails"`
}

func classifyNormalized(raw []byte) Entry {
	var shape normalizedShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return invalid("decode normalized item: %v", err)
	}
	if shape.Content == nil || shape.Content.Data == nil || shape.Content.Type == nil {
		return invalid("missing content")
	}
	if shape.TransportDetails == nil || shape.TransportDetails.SentTime == nil || shape.TransportDetails.Direction == nil {
		return invalid("missing transportDetails")
	}

	var item domain.NormalizedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return invalid("decode normalized item: %v", err)
	}
	if item.Kind == "" {
		item.Kind, _ = domain.KindForContentType(item.Content.Type)
	}
	if item.TransportDetails.Status == "" {
		item.TransportDetails.Status = domain.StatusSendSuccess
	}

	if err := ValidateItem(item); err != nil {
		return Entry{Kind: EntryInvalid, Err: err}
	}
	return Entry{Kind: EntryItem, Item: item}
}

func classifyWire(raw []byte, localParticipantID string) Entry {
	var wire dto.WireItem
	if err := json.Unmarshal(raw, &wire); err != nil {
		return invalid("decode wire item: %v", err)
	}

	if wire.IsReceiptUpdate() {
		return classifyReceipt(wire, localParticipantID)
	}

	item := MapIncoming(wire, localParticipantID)
	if item.ID == "" {
		return invalid("wire item without Id")
	}
	if err := ValidateItem(item); err != nil {
		return Entry{Kind: EntryInvalid, Err: err}
	}
	return Entry{Kind: EntryItem, Item: item}
}

func classifyReceipt(wire dto.WireItem, localParticipantID string) Entry {
	target := wire.ReceiptTarget()
	if target == "" {
		return invalid("receipt without target message id")
	}

	var receipt domain.ReceiptType
	switch {
	case wire.MessageMetadata != nil && len(wire.MessageMetadata.Receipts) > 0:
		receipt, _ = receiptFromMetadata(wire.MessageMetadata, localParticipantID)
	case wire.Type == dto.WireTypeMessageRead || wire.ContentType == domain.ContentTypeMessageRead:
		receipt = domain.ReceiptRead
	case wire.Type == dto.WireTypeMessageDelivered || wire.ContentType == domain.ContentTypeMessageDelivered:
		receipt = domain.ReceiptDelivered
	}
	if receipt == domain.ReceiptNone {
		return invalid("receipt for %s carries no delivered or read state", target)
	}

	return Entry{Kind: EntryReceipt, Receipt: ReceiptUpdate{TargetID: target, Type: receipt}}
}

// ValidateItem checks the fields every renderable or mergeable item needs.
// The content type must be recognized for the item's kind. Event items may
// carry empty data (typing, joined and similar events have no body); messages
// and attachments may not.
func ValidateItem(item domain.NormalizedItem) error {
	if item.Content.Type == "" {
		return fmt.Errorf("%w: empty content type", ErrInvalidItem)
	}

	switch item.Kind {
	case domain.KindEvent:
		if !domain.IsRecognizedEvent(item.Content.Type) {
			return fmt.Errorf("%w: unrecognized event %q", ErrInvalidItem, item.Content.Type)
		}
	case domain.KindMessage:
		if !domain.IsMessageContentType(item.Content.Type) {
			return fmt.Errorf("%w: unrecognized message content type %q", ErrInvalidItem, item.Content.Type)
		}
		if item.Content.Data == "" {
			return fmt.Errorf("%w: empty content data", ErrInvalidItem)
		}
	case domain.KindAttachment:
		if !domain.IsAttachmentContentType(item.Content.Type) {
			return fmt.Errorf("%w: unrecognized attachment content type %q", ErrInvalidItem, item.Content.Type)
		}
		if item.Content.Data == "" {
			return fmt.Errorf("%w: empty content data", ErrInvalidItem)
		}
	default:
		return fmt.Errorf("%w: unrecognized content type %q", ErrInvalidItem, item.Content.Type)
	}

	if !item.TransportDetails.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidItem, item.TransportDetails.Direction)
	}
	if !domain.ValidSentTime(item.TransportDetails.SentTime) {
		return fmt.Errorf("%w: sentTime %v", ErrInvalidItem, item.TransportDetails.SentTime)
	}
	return nil
}
