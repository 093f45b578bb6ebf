package transcript

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/domain"
)

func newTestReconciler() *Reconciler {
	return NewReconciler(Options{LocalParticipantID: testCustomerID})
}

func assertOrdered(t *testing.T, items []domain.NormalizedItem) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		assert.LessOrEqual(t, items[i-1].TransportDetails.SentTime, items[i].TransportDetails.SentTime,
			"items %d and %d out of order", i-1, i)
	}
}

func assertUniqueIDs(t *testing.T, items []domain.NormalizedItem) {
	t.Helper()
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		assert.False(t, seen[it.ID], "duplicate id %s", it.ID)
		seen[it.ID] = true
	}
}

func mixedTranscript() []json.RawMessage {
	return []json.RawMessage{
		wireEvent("e1", "AGENT", testAgentID, domain.ContentTypeParticipantJoined, 1),
		wireMessage("m2", "AGENT", testAgentID, "How can I help?", 3),
		wireMessage("m1", "CUSTOMER", testCustomerID, "Hi", 2),
		wireReceipt("r1", "m1", true, 4),
		wireMessage("m2", "AGENT", testAgentID, "How can I help?", 3),
		wireEvent("t1", "AGENT", testAgentID, domain.ContentTypeTyping, 5),
		json.RawMessage(`null`),
		wireMessage("m3", "CUSTOMER", testCustomerID, "My order is late", 6),
	}
}

// ============================================================================
// Properties
// ============================================================================

// TestReconcile_Idempotent tests that re-reconciling normalized output is a no-op
func TestReconcile_Idempotent(t *testing.T) {
	r := newTestReconciler()

	first := r.Reconcile(mixedTranscript(), nil)
	second := r.Reconcile(toRaw(first), nil)

	assert.Equal(t, first, second)
}

// TestReconcile_OrderingAndDedup tests ordering and id uniqueness on a mixed page
func TestReconcile_OrderingAndDedup(t *testing.T) {
	items, stats := newTestReconciler().ReconcileWithStats(mixedTranscript(), nil)

	assertOrdered(t, items)
	assertUniqueIDs(t, items)
	assert.Equal(t, []string{"e1", "m1", "m2", "t1", "m3"}, ids(items))
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 1, stats.ReceiptsApplied)
}

// TestReconcile_Filtering tests that null and empty objects are dropped
func TestReconcile_Filtering(t *testing.T) {
	valid := json.RawMessage(`{"id":"v1","content":{"data":"Hello","type":"text/plain"},"transportDetails":{"direction":"Outgoing","sentTime":1679017097.836}}`)
	raw := []json.RawMessage{json.RawMessage(`null`), json.RawMessage(`{}`), valid}

	items := newTestReconciler().Reconcile(raw, nil)

	require.Len(t, items, 1)
	assert.Equal(t, "v1", items[0].ID)
	assert.Equal(t, domain.KindMessage, items[0].Kind)
	assert.Equal(t, domain.Content{Data: "Hello", Type: "text/plain"}, items[0].Content)
	assert.Equal(t, domain.StatusSendSuccess, items[0].Status())
}

// TestReconcile_ShuffledRestoresOrder tests that a shuffled page comes back sorted
func TestReconcile_ShuffledRestoresOrder(t *testing.T) {
	var raw []json.RawMessage
	var want []string
	for i := 0; i < 8; i++ {
		id := uuid.NewString()
		want = append(want, id)
		raw = append(raw, wireMessage(id, "AGENT", testAgentID, "msg", float64(i)+0.25))
	}

	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(raw), func(i, j int) { raw[i], raw[j] = raw[j], raw[i] })

	items := newTestReconciler().Reconcile(raw, nil)

	assert.Equal(t, want, ids(items))
	assertOrdered(t, items)
}

// TestReconcile_IdenticalItemsStayDistinct tests five identical id-less items
func TestReconcile_IdenticalItemsStayDistinct(t *testing.T) {
	var raw []json.RawMessage
	for i := 0; i < 5; i++ {
		raw = append(raw, normalizedMessage("Hello, World!", domain.DirectionOutgoing, 1679017097.836))
	}

	r := newTestReconciler()
	items := r.Reconcile(raw, nil)

	require.Len(t, items, 5)
	assertUniqueIDs(t, items)

	// Same input, same synthesized ids
	assert.Equal(t, ids(items), ids(r.Reconcile(raw, nil)))
	assert.Equal(t, items, r.Reconcile(toRaw(items), nil))
}

// TestReconcile_DuplicateKeepsFirstPosition tests that a repeated id merges in place
func TestReconcile_DuplicateKeepsFirstPosition(t *testing.T) {
	raw := []json.RawMessage{
		wireMessage("a", "AGENT", testAgentID, "one", 1),
		wireMessage("b", "AGENT", testAgentID, "two", 1),
		wireMessage("a", "AGENT", testAgentID, "one", 1),
	}

	items := newTestReconciler().Reconcile(raw, nil)
	assert.Equal(t, []string{"a", "b"}, ids(items))
	assert.Equal(t, 0, items[0].Version)
}

// ============================================================================
// Pending sends
// ============================================================================

// TestReconcile_PendingReplacedByServerEcho tests that the server copy replaces the local one
func TestReconcile_PendingReplacedByServerEcho(t *testing.T) {
	sentAt := domain.TimeFromEpochSeconds(testBase + 10)
	f := NewOutgoingFactory(fixedClock(sentAt))
	pending := f.CreateOutgoing(domain.KindMessage,
		domain.Content{Data: "Where is my order?", Type: domain.ContentTypePlainText},
		domain.Participant{ID: testCustomerID, Role: domain.RoleCustomer})

	echo := wireMessage("S1", "CUSTOMER", testCustomerID, "Where is my order?", 11)

	items, stats := newTestReconciler().ReconcileWithStats([]json.RawMessage{echo}, []domain.NormalizedItem{pending})

	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].ID)
	assert.Equal(t, pending.ID, items[0].LocalID)
	assert.Equal(t, domain.StatusSendSuccess, items[0].Status())
	assert.Equal(t, 1, items[0].Version)
	assert.Equal(t, 1, stats.PendingReplaced)
}

// TestReconcile_PendingOutsideWindow tests that a far-away echo does not match
func TestReconcile_PendingOutsideWindow(t *testing.T) {
	f := NewOutgoingFactory(fixedClock(domain.TimeFromEpochSeconds(testBase + 10)))
	pending := f.CreateOutgoing(domain.KindMessage,
		domain.Content{Data: "again", Type: domain.ContentTypePlainText},
		domain.Participant{ID: testCustomerID, Role: domain.RoleCustomer})

	echo := wireMessage("S1", "CUSTOMER", testCustomerID, "again", 100)

	items := newTestReconciler().Reconcile([]json.RawMessage{echo}, []domain.NormalizedItem{pending})
	assert.Equal(t, []string{pending.ID, "S1"}, ids(items))
}

// TestReconcile_SuccessResponseReplacesLocalID tests the explicit id replacement path
func TestReconcile_SuccessResponseReplacesLocalID(t *testing.T) {
	f := NewOutgoingFactory(fixedClock(domain.TimeFromEpochSeconds(testBase)))
	pending := f.CreateOutgoing(domain.KindMessage,
		domain.Content{Data: "thanks", Type: domain.ContentTypePlainText},
		domain.Participant{ID: testCustomerID, Role: domain.RoleCustomer})
	resolved := CreateFromSuccessResponse(pending, dto.SendResponse{ID: "S1", AbsoluteTime: at(1)})

	items := newTestReconciler().Reconcile(nil, []domain.NormalizedItem{pending, resolved})

	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].ID)
	assert.Equal(t, domain.StatusSendSuccess, items[0].Status())
	assert.NotContains(t, ids(items), pending.ID)

	// A late echo of the same message merges into S1
	again := newTestReconciler().Reconcile(
		[]json.RawMessage{wireMessage("S1", "CUSTOMER", testCustomerID, "thanks", 1)}, items)
	assert.Equal(t, []string{"S1"}, ids(again))
}

// TestReconcile_StalePendingDoesNotRollBack tests that a resolved send never returns to Sending
func TestReconcile_StalePendingDoesNotRollBack(t *testing.T) {
	f := NewOutgoingFactory(fixedClock(domain.TimeFromEpochSeconds(testBase)))
	pending := f.CreateOutgoing(domain.KindMessage,
		domain.Content{Data: "x", Type: domain.ContentTypePlainText},
		domain.Participant{ID: testCustomerID, Role: domain.RoleCustomer})
	resolved := CreateFromSuccessResponse(pending, dto.SendResponse{ID: "S1"})

	items := newTestReconciler().Reconcile(toRaw([]domain.NormalizedItem{pending}), []domain.NormalizedItem{resolved})

	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].ID)
	assert.Equal(t, domain.StatusSendSuccess, items[0].Status())
	assert.Equal(t, resolved.Version, items[0].Version)
}

// TestReconcile_FailedSendKeepsID tests that a failure stays visible under the same id
func TestReconcile_FailedSendKeepsID(t *testing.T) {
	f := NewOutgoingFactory(fixedClock(domain.TimeFromEpochSeconds(testBase)))
	pending := f.CreateOutgoing(domain.KindMessage,
		domain.Content{Data: "lost", Type: domain.ContentTypePlainText},
		domain.Participant{ID: testCustomerID, Role: domain.RoleCustomer})
	failed := CreateFailed(pending, domain.TimeFromEpochSeconds(testBase+5))

	items := newTestReconciler().Reconcile(nil, []domain.NormalizedItem{pending, failed})

	require.Len(t, items, 1)
	assert.Equal(t, pending.ID, items[0].ID)
	assert.Equal(t, domain.StatusSendFailed, items[0].Status())
	assert.InDelta(t, float64(testBase+5), items[0].TransportDetails.SentTime, 1e-6)
}

// TestReconcile_LateFailureKeepsEchoedItem tests a send that errors after its echo already arrived
func TestReconcile_LateFailureKeepsEchoedItem(t *testing.T) {
	f := NewOutgoingFactory(fixedClock(domain.TimeFromEpochSeconds(testBase + 10)))
	pending := f.CreateOutgoing(domain.KindMessage,
		domain.Content{Data: "Still there?", Type: domain.ContentTypePlainText},
		domain.Participant{ID: testCustomerID, Role: domain.RoleCustomer})

	r := newTestReconciler()
	echoed := r.Reconcile(
		[]json.RawMessage{wireMessage("S1", "CUSTOMER", testCustomerID, "Still there?", 11)},
		[]domain.NormalizedItem{pending})
	require.Len(t, echoed, 1)
	require.Equal(t, "S1", echoed[0].ID)
	require.Equal(t, pending.ID, echoed[0].LocalID)

	failed := CreateFailed(pending, domain.TimeFromEpochSeconds(testBase+40))
	items := r.Reconcile(nil, append(echoed, failed))

	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].ID)
	assert.Equal(t, domain.StatusSendSuccess, items[0].Status())
	assert.Equal(t, echoed[0].Version, items[0].Version)
}

// ============================================================================
// Receipts
// ============================================================================

// TestReconcile_ReceiptBumpsVersion tests receipt folding into a known item
func TestReconcile_ReceiptBumpsVersion(t *testing.T) {
	r := newTestReconciler()
	known := r.Reconcile([]json.RawMessage{wireMessage("m1", "CUSTOMER", testCustomerID, "hi", 1)}, nil)

	delivered := r.Reconcile([]json.RawMessage{wireReceipt("r1", "m1", false, 2)}, known)
	require.Len(t, delivered, 1)
	assert.Equal(t, domain.ReceiptDelivered, delivered[0].ReceiptType())
	assert.Equal(t, 1, delivered[0].Version)

	read := r.Reconcile([]json.RawMessage{wireReceipt("r2", "m1", true, 3)}, delivered)
	assert.Equal(t, domain.ReceiptRead, read[0].ReceiptType())
	assert.Equal(t, 2, read[0].Version)

	// Delivered after read changes nothing
	again := r.Reconcile([]json.RawMessage{wireReceipt("r3", "m1", false, 4)}, read)
	assert.Equal(t, domain.ReceiptRead, again[0].ReceiptType())
	assert.Equal(t, 2, again[0].Version)
}

// TestReconcile_ReceiptBeforeMessage tests a receipt that precedes its message in the same page
func TestReconcile_ReceiptBeforeMessage(t *testing.T) {
	raw := []json.RawMessage{
		wireReceipt("r1", "m1", true, 2),
		wireMessage("m1", "CUSTOMER", testCustomerID, "hi", 1),
	}

	items := newTestReconciler().Reconcile(raw, nil)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ReceiptRead, items[0].ReceiptType())
}

// TestReconcile_ReceiptForUnknownItem tests that orphan receipts are dropped
func TestReconcile_ReceiptForUnknownItem(t *testing.T) {
	items, stats := newTestReconciler().ReconcileWithStats([]json.RawMessage{wireReceipt("r1", "ghost", true, 1)}, nil)
	assert.Empty(t, items)
	assert.Equal(t, 1, stats.ReceiptsUnmatched)
}

// TestReconcile_VersionNeverDecreases tests re-merging the same page into its own output
func TestReconcile_VersionNeverDecreases(t *testing.T) {
	r := newTestReconciler()
	first := r.Reconcile(mixedTranscript(), nil)
	second := r.Reconcile(mixedTranscript(), first)

	require.Equal(t, ids(first), ids(second))
	for i := range first {
		assert.GreaterOrEqual(t, second[i].Version, first[i].Version)
		assert.Equal(t, first[i].ReceiptType(), second[i].ReceiptType())
	}
}

// ============================================================================
// Typing indicators
// ============================================================================

// TestReconcile_TypingSupersededByMessage tests typing removal by a newer message
func TestReconcile_TypingSupersededByMessage(t *testing.T) {
	raw := []json.RawMessage{
		wireEvent("t1", "AGENT", testAgentID, domain.ContentTypeTyping, 1),
		wireMessage("m1", "AGENT", testAgentID, "hello", 2),
	}

	items, stats := newTestReconciler().ReconcileWithStats(raw, nil)
	assert.Equal(t, []string{"m1"}, ids(items))
	assert.Equal(t, 1, stats.TypingRemoved)
}

// TestReconcile_TypingFromOtherParticipantKept tests that only the same author supersedes typing
func TestReconcile_TypingFromOtherParticipantKept(t *testing.T) {
	raw := []json.RawMessage{
		wireEvent("t1", "AGENT", testAgentID, domain.ContentTypeTyping, 1),
		wireMessage("m1", "CUSTOMER", testCustomerID, "hello?", 2),
	}

	items := newTestReconciler().Reconcile(raw, nil)
	assert.Equal(t, []string{"t1", "m1"}, ids(items))
}

// TestReconcile_OnlyLatestTypingKept tests that a newer typing indicator replaces an older one
func TestReconcile_OnlyLatestTypingKept(t *testing.T) {
	raw := []json.RawMessage{
		wireMessage("m1", "AGENT", testAgentID, "hello", 1),
		wireEvent("t1", "AGENT", testAgentID, domain.ContentTypeTyping, 2),
		wireEvent("t2", "AGENT", testAgentID, domain.ContentTypeTyping, 3),
	}

	items := newTestReconciler().Reconcile(raw, nil)
	assert.Equal(t, []string{"m1", "t2"}, ids(items))
}

// TestReconcile_TypingRemovedByChatEnd tests that chat end clears all typing indicators
func TestReconcile_TypingRemovedByChatEnd(t *testing.T) {
	raw := []json.RawMessage{
		wireEvent("t1", "AGENT", testAgentID, domain.ContentTypeTyping, 1),
		wireEvent("end", "SYSTEM", "", domain.ContentTypeChatEnded, 2),
	}

	items := newTestReconciler().Reconcile(raw, nil)
	assert.Equal(t, []string{"end"}, ids(items))
}

// TestReconcile_Deterministic tests that the same inputs always give the same output
func TestReconcile_Deterministic(t *testing.T) {
	r := NewReconciler(Options{LocalParticipantID: testCustomerID, PendingMatchWindow: time.Minute})
	assert.Equal(t, r.Reconcile(mixedTranscript(), nil), r.Reconcile(mixedTranscript(), nil))
}
