// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/domain"
)

// TranscriptSource fetches transcript pages from the participant service
type TranscriptSource interface {
	// GetTranscript returns one page; an empty NextToken means no older items
	GetTranscript(ctx context.Context, connectionToken string, req dto.GetTranscriptRequest) (*dto.TranscriptPage, error)
}

// MessageSender delivers locally initiated items
type MessageSender interface {
	SendMessage(ctx context.Context, connectionToken string, req dto.SendMessageRequest) (*dto.SendResponse, error)
	SendEvent(ctx context.Context, connectionToken string, req dto.SendEventRequest) (*dto.SendResponse, error)

	// DisconnectParticipant ends the chat for the local participant
	DisconnectParticipant(ctx context.Context, connectionToken string) error
}

// DedupRepository remembers which inbound notifications were already applied
type DedupRepository interface {
	// IsDuplicate checks if a notification key has already been processed
	IsDuplicate(ctx context.Context, key string) (bool, error)

	// MarkProcessed records the key with a TTL so old entries expire
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error
}

// FetchLock serializes transcript fetches for one session across processes
type FetchLock interface {
	// Acquire returns false without error when another holder owns the lock
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// SnapshotPublisher pushes fresh snapshots to whoever renders the session
type SnapshotPublisher interface {
	Publish(snapshot domain.Snapshot)
	// Forget drops anything retained for a session that left memory
	Forget(sessionID string)
}
