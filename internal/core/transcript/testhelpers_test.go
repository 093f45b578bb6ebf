package transcript

import (
	"encoding/json"
	"time"

	"connect-chat/internal/core/domain"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

const (
	testCustomerID = "cust-1"
	testAgentID    = "agent-1"
	testBase       = 1700000000
)

// at formats an AbsoluteTime offset seconds after the test base time
func at(offset float64) string {
	return domain.TimeFromEpochSeconds(testBase + offset).Format(time.RFC3339Nano)
}

// wireMessage builds a participant service MESSAGE item
func wireMessage(id, role, participantID, text string, offset float64) json.RawMessage {
	return mustJSON(map[string]interface{}{
		"Id":              id,
		"Type":            "MESSAGE",
		"Content":         text,
		"ContentType":     domain.ContentTypePlainText,
		"ParticipantId":   participantID,
		"ParticipantRole": role,
		"DisplayName":     role + " name",
		"AbsoluteTime":    at(offset),
	})
}

// wireEvent builds a participant service EVENT item
func wireEvent(id, role, participantID, contentType string, offset float64) json.RawMessage {
	return mustJSON(map[string]interface{}{
		"Id":              id,
		"Type":            "EVENT",
		"ContentType":     contentType,
		"ParticipantId":   participantID,
		"ParticipantRole": role,
		"AbsoluteTime":    at(offset),
	})
}

// wireReceipt builds a MESSAGEMETADATA item written by the agent
func wireReceipt(id, target string, read bool, offset float64) json.RawMessage {
	receipt := map[string]interface{}{
		"RecipientParticipantId": testAgentID,
		"DeliveredTimestamp":     at(offset),
	}
	if read {
		receipt["ReadTimestamp"] = at(offset)
	}
	return mustJSON(map[string]interface{}{
		"Id":           id,
		"Type":         "MESSAGEMETADATA",
		"ContentType":  "application/vnd.amazonaws.connect.event.message.metadata",
		"AbsoluteTime": at(offset),
		"MessageMetadata": map[string]interface{}{
			"MessageId": target,
			"Receipts":  []interface{}{receipt},
		},
	})
}

// normalizedMessage builds an already-normalized item without an id
func normalizedMessage(text string, direction domain.Direction, sentTime float64) json.RawMessage {
	return mustJSON(map[string]interface{}{
		"content": map[string]interface{}{
			"data": text,
			"type": domain.ContentTypePlainText,
		},
		"transportDetails": map[string]interface{}{
			"direction": direction,
			"sentTime":  sentTime,
		},
	})
}

// toRaw re-encodes normalized items as reconcile input
func toRaw(items []domain.NormalizedItem) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, mustJSON(it))
	}
	return out
}

func ids(items []domain.NormalizedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
