package transcript

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"connect-chat/internal/core/domain"
)

// DefaultPendingMatchWindow bounds how far a server echo may drift from the
// local send time and still be matched to the pending item
const DefaultPendingMatchWindow = 30 * time.Second

// synthesizedIDSpace namespaces ids derived for items that arrive without one
var synthesizedIDSpace = uuid.MustParse("6f1c1d8e-3f0a-4a52-9a53-2b8e5c4f7d10")

// Options tunes a Reconciler
type Options struct {
	LocalParticipantID string
	PendingMatchWindow time.Duration
}

// Stats describes what one reconciliation pass did
type Stats struct {
	Dropped           int
	ReceiptsApplied   int
	ReceiptsUnmatched int
	PendingReplaced   int
	TypingRemoved     int
}

// Reconciler merges raw transcript pages into an ordered, de-duplicated list.
// It holds configuration only and is safe for concurrent use.
type Reconciler struct {
	opts Options
}

func NewReconciler(opts Options) *Reconciler {
	if opts.PendingMatchWindow <= 0 {
		opts.PendingMatchWindow = DefaultPendingMatchWindow
	}
	return &Reconciler{opts: opts}
}

// Reconcile merges raw into known and returns a fresh ordered snapshot.
// It never fails: invalid elements are dropped.
func (r *Reconciler) Reconcile(raw []json.RawMessage, known []domain.NormalizedItem) []domain.NormalizedItem {
	items, _ := r.ReconcileWithStats(raw, known)
	return items
}

// ReconcileWithStats is Reconcile plus counters for metrics
func (r *Reconciler) ReconcileWithStats(raw []json.RawMessage, known []domain.NormalizedItem) ([]domain.NormalizedItem, Stats) {
	m := &merge{
		items:       make([]domain.NormalizedItem, 0, len(known)+len(raw)),
		byID:        make(map[string]int, len(known)+len(raw)),
		byLocalID:   make(map[string]int),
		occurrences: make(map[string]int),
		window:      r.opts.PendingMatchWindow.Seconds(),
	}

	for _, item := range known {
		m.upsert(item)
	}

	var receipts []ReceiptUpdate
	for _, el := range raw {
		entry := Classify(el, r.opts.LocalParticipantID)
		switch entry.Kind {
		case EntryItem:
			m.upsert(entry.Item)
		case EntryReceipt:
			receipts = append(receipts, entry.Receipt)
		default:
			m.stats.Dropped++
		}
	}

	// Receipts may precede the message they acknowledge in the same page
	for _, rc := range receipts {
		m.applyReceipt(rc)
	}

	out := m.withoutSupersededTyping()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransportDetails.SentTime < out[j].TransportDetails.SentTime
	})
	return out, m.stats
}

type merge struct {
	items       []domain.NormalizedItem
	byID        map[string]int
	byLocalID   map[string]int
	occurrences map[string]int
	window      float64
	stats       Stats
}

func (m *merge) upsert(incoming domain.NormalizedItem) {
	if incoming.ID == "" {
		incoming.ID = m.synthesizeID(incoming)
	}

	if idx, ok := m.lookup(incoming.ID); ok {
		m.replaceAt(idx, mergeItems(m.items[idx], incoming))
		return
	}
	if incoming.LocalID != "" {
		if idx, ok := m.lookup(incoming.LocalID); ok {
			m.replaceAt(idx, mergeItems(m.items[idx], incoming))
			m.stats.PendingReplaced++
			return
		}
	}
	if idx, ok := m.matchPending(incoming); ok {
		if incoming.LocalID == "" {
			incoming.LocalID = m.items[idx].ID
		}
		m.replaceAt(idx, mergeItems(m.items[idx], incoming))
		m.stats.PendingReplaced++
		return
	}

	m.byID[incoming.ID] = len(m.items)
	if incoming.LocalID != "" {
		m.byLocalID[incoming.LocalID] = len(m.items)
	}
	m.items = append(m.items, incoming)
}

func (m *merge) lookup(id string) (int, bool) {
	if idx, ok := m.byID[id]; ok {
		return idx, true
	}
	idx, ok := m.byLocalID[id]
	return idx, ok
}

// replaceAt swaps the item at idx and keeps both indexes pointing at it
func (m *merge) replaceAt(idx int, item domain.NormalizedItem) {
	prev := m.items[idx]
	if prev.ID != item.ID {
		delete(m.byID, prev.ID)
		m.byLocalID[prev.ID] = idx
	}
	m.byID[item.ID] = idx
	if item.LocalID != "" {
		m.byLocalID[item.LocalID] = idx
	}
	m.items[idx] = item
}

// matchPending finds the pending send a confirmed outgoing item echoes:
// same content, Outgoing, closest sentTime within the window
func (m *merge) matchPending(incoming domain.NormalizedItem) (int, bool) {
	if incoming.IsPending() || incoming.TransportDetails.Direction != domain.DirectionOutgoing {
		return 0, false
	}

	best, bestDelta := -1, math.Inf(1)
	for i, it := range m.items {
		if !it.IsPending() || it.TransportDetails.Direction != domain.DirectionOutgoing {
			continue
		}
		if it.Content != incoming.Content || it.Kind != incoming.Kind {
			continue
		}
		delta := math.Abs(it.TransportDetails.SentTime - incoming.TransportDetails.SentTime)
		if delta <= m.window && delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	return best, best >= 0
}

func (m *merge) applyReceipt(rc ReceiptUpdate) {
	idx, ok := m.lookup(rc.TargetID)
	if !ok {
		m.stats.ReceiptsUnmatched++
		return
	}
	cur := m.items[idx]
	next := ApplyReceipt(cur, rc.Type)
	if next.ReceiptType() != cur.ReceiptType() {
		next.Version++
	}
	m.items[idx] = next
	m.stats.ReceiptsApplied++
}

// synthesizeID derives a stable id from the item's fingerprint and how many
// identical items preceded it in this pass
func (m *merge) synthesizeID(item domain.NormalizedItem) string {
	fp := fmt.Sprintf("%s|%s|%s|%s|%s|%.6f",
		item.Kind,
		item.Content.Type,
		item.Content.Data,
		item.Participant.ID,
		item.TransportDetails.Direction,
		item.TransportDetails.SentTime,
	)
	n := m.occurrences[fp]
	m.occurrences[fp] = n + 1
	return uuid.NewSHA1(synthesizedIDSpace, []byte(fmt.Sprintf("%s#%d", fp, n))).String()
}

// withoutSupersededTyping drops typing indicators that a newer item from the
// same participant, a newer typing indicator, or chat end has made stale
func (m *merge) withoutSupersededTyping() []domain.NormalizedItem {
	ended := math.Inf(-1)
	lastActivity := make(map[string]float64)
	lastTyping := make(map[string]int)

	for i, it := range m.items {
		if !isTyping(it) {
			key := participantKey(it)
			if t, ok := lastActivity[key]; !ok || it.TransportDetails.SentTime > t {
				lastActivity[key] = it.TransportDetails.SentTime
			}
			if it.Kind == domain.KindEvent && domain.IsTerminalEvent(it.Content.Type) {
				ended = math.Max(ended, it.TransportDetails.SentTime)
			}
			continue
		}
		key := participantKey(it)
		if j, ok := lastTyping[key]; !ok || it.TransportDetails.SentTime >= m.items[j].TransportDetails.SentTime {
			lastTyping[key] = i
		}
	}

	out := make([]domain.NormalizedItem, 0, len(m.items))
	for i, it := range m.items {
		if isTyping(it) {
			key := participantKey(it)
			sent := it.TransportDetails.SentTime
			t, active := lastActivity[key]
			if lastTyping[key] != i || (active && t >= sent) || ended >= sent {
				m.stats.TypingRemoved++
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func isTyping(item domain.NormalizedItem) bool {
	return item.Kind == domain.KindEvent && item.Content.Type == domain.ContentTypeTyping
}

func participantKey(item domain.NormalizedItem) string {
	if item.Participant.ID != "" {
		return item.Participant.ID
	}
	return string(item.Participant.Role)
}

// mergeItems combines two views of the same logical item
func mergeItems(existing, incoming domain.NormalizedItem) domain.NormalizedItem {
	merged := incoming

	// A stale local copy or a late failure never rolls back a resolved send
	if isResolved(existing) && (incoming.IsPending() || incoming.Status() == domain.StatusSendFailed) {
		merged = existing
	}

	merged.TransportDetails.MessageReceiptType = strongerReceipt(existing.ReceiptType(), incoming.ReceiptType())
	if merged.LocalID == "" {
		merged.LocalID = existing.LocalID
	}
	if merged.Participant.DisplayName == "" {
		merged.Participant.DisplayName = existing.Participant.DisplayName
	}
	merged.IsOldConversation = existing.IsOldConversation || incoming.IsOldConversation

	merged.Version = max(existing.Version, incoming.Version)
	if merged.Version == existing.Version && !sameState(existing, merged) {
		merged.Version++
	}
	return merged
}

func isResolved(item domain.NormalizedItem) bool {
	return item.Status() == domain.StatusSendSuccess || item.Status() == domain.StatusRead
}

func sameState(a, b domain.NormalizedItem) bool {
	a.Version, b.Version = 0, 0
	return a == b
}
