package transcript

import (
	"time"

	"github.com/google/uuid"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/domain"
)

// OutgoingFactory builds items for locally initiated sends.
// The clock is injectable so tests can pin sentTime.
type OutgoingFactory struct {
	now   func() time.Time
	newID func() string
}

// NewOutgoingFactory creates a factory; a nil clock means time.Now
func NewOutgoingFactory(now func() time.Time) *OutgoingFactory {
	if now == nil {
		now = time.Now
	}
	return &OutgoingFactory{
		now:   now,
		newID: func() string { return uuid.NewString() },
	}
}

// CreateOutgoing returns a pending item with a fresh v4 id and status Sending
func (f *OutgoingFactory) CreateOutgoing(kind domain.ItemKind, content domain.Content, participant domain.Participant) domain.NormalizedItem {
	return domain.NormalizedItem{
		ID:          f.newID(),
		Kind:        kind,
		Content:     content,
		Participant: participant,
		TransportDetails: domain.TransportDetails{
			Direction: domain.DirectionOutgoing,
			SentTime:  domain.EpochSeconds(f.now()),
			Status:    domain.StatusSending,
		},
	}
}

// CreateFailed marks item as failed at failureTime, keeping its id
func CreateFailed(item domain.NormalizedItem, failureTime time.Time) domain.NormalizedItem {
	item.TransportDetails.Status = domain.StatusSendFailed
	item.TransportDetails.SentTime = domain.EpochSeconds(failureTime)
	item.Version++
	return item
}

// CreateFromSuccessResponse resolves a pending item with the server's answer.
// The server id replaces the local one, which is kept in LocalID.
func CreateFromSuccessResponse(pending domain.NormalizedItem, resp dto.SendResponse) domain.NormalizedItem {
	item := pending
	if resp.ID != "" && resp.ID != pending.ID {
		item.ID = resp.ID
		if item.LocalID == "" {
			item.LocalID = pending.ID
		}
	}
	if sent := parseAbsoluteTime(resp.AbsoluteTime); domain.ValidSentTime(sent) {
		item.TransportDetails.SentTime = sent
	}
	item.TransportDetails.Status = domain.StatusSendSuccess
	item.Version++
	return item
}
