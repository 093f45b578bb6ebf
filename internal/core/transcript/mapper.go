// Package transcript normalizes heterogeneous wire items into an ordered,
// de-duplicated, UI-ready transcript. Everything here is pure: no I/O, no
// logging, no wall-clock reads outside OutgoingFactory.
package transcript

import (
	"strings"
	"time"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/domain"
)

// MapIncoming converts one raw incoming wire item into a NormalizedItem.
// localParticipantID is the customer's own participant id; it selects which
// receipt entry describes the counterparty's acknowledgment.
func MapIncoming(item dto.WireItem, localParticipantID string) domain.NormalizedItem {
	role := parseRole(item.ParticipantRole)

	direction := domain.DirectionIncoming
	if role == domain.RoleCustomer {
		direction = domain.DirectionOutgoing
	}

	out := domain.NormalizedItem{
		ID:   item.ID,
		Kind: kindForWire(item),
		Content: domain.Content{
			Data: item.Content,
			Type: item.ContentType,
		},
		Participant: domain.Participant{
			ID:          item.ParticipantID,
			Role:        role,
			DisplayName: item.DisplayName,
		},
		TransportDetails: domain.TransportDetails{
			Direction: direction,
			SentTime:  parseAbsoluteTime(item.AbsoluteTime),
			Status:    domain.StatusSendSuccess,
		},
		IsOldConversation: item.IsRehydrated(),
	}

	// Attachment items carry no Content; the file name is what gets rendered
	if out.Kind == domain.KindAttachment && len(item.Attachments) > 0 {
		att := item.Attachments[0]
		if out.Content.Data == "" {
			out.Content.Data = att.AttachmentName
		}
		if att.ContentType != "" {
			out.Content.Type = att.ContentType
		}
	}

	if item.MessageMetadata != nil {
		if receipt, ok := receiptFromMetadata(item.MessageMetadata, localParticipantID); ok {
			out.TransportDetails.MessageReceiptType = receipt
		}
	}

	return out
}

// kindForWire prefers the wire Type and falls back to the content type
func kindForWire(item dto.WireItem) domain.ItemKind {
	switch item.Type {
	case dto.WireTypeAttachment:
		return domain.KindAttachment
	case dto.WireTypeMessage:
		return domain.KindMessage
	case dto.WireTypeEvent, dto.WireTypeConnectionAck, dto.WireTypeTyping,
		dto.WireTypeParticipantJoined, dto.WireTypeParticipantLeft, dto.WireTypeChatEnded,
		dto.WireTypeTransferSucceeded, dto.WireTypeTransferFailed:
		return domain.KindEvent
	}

	kind, _ := domain.KindForContentType(item.ContentType)
	return kind
}

func parseRole(role string) domain.ParticipantRole {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case "CUSTOMER":
		return domain.RoleCustomer
	case "AGENT", "SUPERVISOR":
		return domain.RoleAgent
	case "SYSTEM", "CUSTOM_BOT":
		return domain.RoleSystem
	}
	return domain.RoleUnknown
}

// parseAbsoluteTime returns 0 for unparseable input; validation rejects it later
func parseAbsoluteTime(s string) float64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return domain.EpochSeconds(t)
}

// receiptFromMetadata picks the receipt written by the other party
func receiptFromMetadata(meta *dto.MessageMetadata, localParticipantID string) (domain.ReceiptType, bool) {
	for _, r := range meta.Receipts {
		if r.RecipientParticipantID == localParticipantID {
			continue
		}
		switch {
		case r.ReadTimestamp != "":
			return domain.ReceiptRead, true
		case r.DeliveredTimestamp != "":
			return domain.ReceiptDelivered, true
		default:
			return domain.ReceiptNone, true
		}
	}
	return domain.ReceiptNone, false
}
