// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/domain"
	"connect-chat/internal/core/ports"
	"connect-chat/internal/core/transcript"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionEnded       = errors.New("session ended")
	ErrInvalidSession     = errors.New("session id and participant id are required")
	ErrStaleFetch         = errors.New("stale transcript fetch discarded")
	ErrFetchInProgress    = errors.New("transcript fetch already in progress")
	ErrUnknownPendingItem = errors.New("no failed outgoing item with that id")
	ErrUnsupportedKind    = errors.New("item kind cannot be sent")
)

// SessionConfig holds the tunables shared by every session
type SessionConfig struct {
	PendingMatchWindow time.Duration
	DedupTTL           time.Duration
	FetchLockTTL       time.Duration
	PageSize           int
}

// DefaultSessionConfig returns the values used when nothing is configured
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PendingMatchWindow: transcript.DefaultPendingMatchWindow,
		DedupTTL:           24 * time.Hour,
		FetchLockTTL:       30 * time.Second,
		PageSize:           15,
	}
}

// OpenParams describes a chat session joining this backend
type OpenParams struct {
	SessionID       string
	ParticipantID   string
	ConnectionToken string
	DisplayName     string
	Connectivity    domain.Connectivity
}

// Session owns the transcript state of one chat contact.
// All transcript mutation happens under mu, one reconciliation at a time.
type Session struct {
	id           string
	incarnation  string // distinguishes a reopened session from the one it replaced
	participant  domain.Participant
	connectivity *connectivityState
	reconciler   *transcript.Reconciler
	display      *transcript.DisplayAdapter

	mu              sync.Mutex
	connectionToken string
	items           []domain.NormalizedItem
	nextToken       string
	historyLoaded   bool
	version         int
	ended           bool
	fetchGen        uint64
	lastActive      time.Time
}

// SessionManager routes transport notifications and local actions to sessions
type SessionManager struct {
	cfg       SessionConfig
	source    ports.TranscriptSource
	sender    ports.MessageSender
	dedup     ports.DedupRepository
	lock      ports.FetchLock
	publisher ports.SnapshotPublisher
	factory   *transcript.OutgoingFactory
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	fetches  singleflight.Group
}

// NewSessionManager creates a new session manager with dependencies injected
func NewSessionManager(
	cfg SessionConfig,
	source ports.TranscriptSource,
	sender ports.MessageSender,
	dedup ports.DedupRepository,
	lock ports.FetchLock,
	publisher ports.SnapshotPublisher,
) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		source:    source,
		sender:    sender,
		dedup:     dedup,
		lock:      lock,
		publisher: publisher,
		factory:   transcript.NewOutgoingFactory(time.Now),
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// WithClock replaces the wall clock; used by tests
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	m.factory = transcript.NewOutgoingFactory(now)
	return m
}

// Open registers a session or refreshes the token of a live one.
// An ended session with the same id is replaced by a fresh one.
func (m *SessionManager) Open(p OpenParams) (domain.Snapshot, error) {
	if p.SessionID == "" || p.ParticipantID == "" {
		return domain.Snapshot{}, ErrInvalidSession
	}

	now := m.now()

	m.mu.Lock()
	s, exists := m.sessions[p.SessionID]
	if exists && !s.isEnded() {
		m.mu.Unlock()
		s.refreshToken(p.ConnectionToken, now)
		if p.Connectivity != "" {
			s.connectivity.Set(s.id, p.Connectivity, "reopened", now)
		}
		return s.snapshot(now), nil
	}

	s = newSession(p, m.cfg, now)
	m.sessions[p.SessionID] = s
	m.mu.Unlock()

	if !exists {
		activeSessionsGauge.Inc()
	}
	m.fetches.Forget(p.SessionID)

	slog.Info("Session opened",
		"session_id", p.SessionID,
		"participant_id", p.ParticipantID,
		"connectivity", s.connectivity.Current(),
	)

	snap := s.snapshot(now)
	m.publish(snap)
	return snap, nil
}

// Ingest applies inbound transport notifications to the session transcript
func (m *SessionManager) Ingest(ctx context.Context, sessionID string, raw []json.RawMessage) (domain.Snapshot, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	// ========================================================================
	// Step 1: Skip notifications already applied (possibly by another process)
	// ========================================================================
	fresh := make([]json.RawMessage, 0, len(raw))
	var keys []string
	skipped := 0
	for _, r := range raw {
		id := notificationID(r)
		if id == "" {
			fresh = append(fresh, r)
			continue
		}

		key := s.dedupKey(id)
		isDup, err := m.dedup.IsDuplicate(ctx, key)
		if err != nil {
			// Reconciliation is idempotent, so a failed check only costs a merge
			slog.Warn("Dedup check failed, applying notification anyway",
				"error", err,
				"session_id", sessionID,
				"item_id", id,
			)
		} else if isDup {
			skipped++
			continue
		}
		fresh = append(fresh, r)
		keys = append(keys, key)
	}

	// ========================================================================
	// Step 2: Reconcile and publish
	// ========================================================================
	snap, err := s.apply(fresh, nil, "ingest", m.now())
	if err != nil {
		return domain.Snapshot{}, err
	}

	for _, key := range keys {
		if err := m.dedup.MarkProcessed(ctx, key, m.cfg.DedupTTL); err != nil {
			slog.Warn("Failed to mark notification in dedup cache",
				"error", err,
				"key", key,
			)
		}
	}

	slog.Debug("Notifications ingested",
		"session_id", sessionID,
		"received", len(raw),
		"skipped_duplicates", skipped,
		"version", snap.Version,
	)

	m.publish(snap)
	return snap, nil
}

// Send creates a pending item, delivers it and resolves it to SendSuccess or
// SendFailed. Delivery failures are reported through the item status.
func (m *SessionManager) Send(ctx context.Context, sessionID string, kind domain.ItemKind, content domain.Content) (domain.NormalizedItem, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return domain.NormalizedItem{}, err
	}
	if kind == domain.KindAttachment {
		return domain.NormalizedItem{}, fmt.Errorf("send %s: %w", kind, ErrUnsupportedKind)
	}

	pending := m.factory.CreateOutgoing(kind, content, s.participant)
	if err := transcript.ValidateItem(pending); err != nil {
		return domain.NormalizedItem{}, fmt.Errorf("send: %w", err)
	}
	return m.deliver(ctx, s, pending)
}

// Retry re-sends a failed outgoing item under its existing id
func (m *SessionManager) Retry(ctx context.Context, sessionID, itemID string) (domain.NormalizedItem, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return domain.NormalizedItem{}, err
	}

	failed, ok := s.find(itemID)
	if !ok || failed.Status() != domain.StatusSendFailed || failed.TransportDetails.Direction != domain.DirectionOutgoing {
		return domain.NormalizedItem{}, fmt.Errorf("retry %s: %w", itemID, ErrUnknownPendingItem)
	}

	retry := failed
	retry.TransportDetails.Status = domain.StatusSending
	retry.TransportDetails.SentTime = domain.EpochSeconds(m.now())
	retry.Version++
	return m.deliver(ctx, s, retry)
}

func (m *SessionManager) deliver(ctx context.Context, s *Session, pending domain.NormalizedItem) (domain.NormalizedItem, error) {
	snap, err := s.apply(nil, []domain.NormalizedItem{pending}, "send", m.now())
	if err != nil {
		return domain.NormalizedItem{}, err
	}
	m.publish(snap)

	if !s.connectivity.Current().Online() {
		sendCounter.WithLabelValues("offline").Inc()
		return m.resolve(s, transcript.CreateFailed(pending, m.now())), nil
	}

	resp, err := m.dispatch(ctx, s, pending)
	if err != nil {
		slog.Warn("Send failed",
			"error", err,
			"session_id", s.id,
			"item_id", pending.ID,
		)
		sendCounter.WithLabelValues("failed").Inc()
		return m.resolve(s, transcript.CreateFailed(pending, m.now())), nil
	}

	sendCounter.WithLabelValues("success").Inc()
	confirmed := m.resolve(s, transcript.CreateFromSuccessResponse(pending, *resp))

	slog.Info("Item sent",
		"session_id", s.id,
		"local_id", pending.ID,
		"server_id", confirmed.ID,
	)
	return confirmed, nil
}

func (m *SessionManager) dispatch(ctx context.Context, s *Session, item domain.NormalizedItem) (*dto.SendResponse, error) {
	token := s.token()
	if item.Kind == domain.KindEvent {
		return m.sender.SendEvent(ctx, token, dto.SendEventRequest{
			ContentType: item.Content.Type,
			Content:     item.Content.Data,
			ClientToken: item.ID,
		})
	}
	return m.sender.SendMessage(ctx, token, dto.SendMessageRequest{
		ContentType: item.Content.Type,
		Content:     item.Content.Data,
		ClientToken: item.ID,
	})
}

// resolve folds a resolved send back in and returns the item as the transcript
// now holds it. A failure that lost the race against the server echo comes
// back as the echoed item. A session that ended meanwhile is left alone.
func (m *SessionManager) resolve(s *Session, item domain.NormalizedItem) domain.NormalizedItem {
	snap, err := s.apply(nil, []domain.NormalizedItem{item}, "send", m.now())
	if err != nil {
		slog.Debug("Dropping send result for ended session",
			"session_id", s.id,
			"item_id", item.ID,
		)
		return item
	}
	m.publish(snap)

	for _, it := range snap.Items {
		if it.ID == item.ID || it.LocalID == item.ID {
			return it
		}
	}
	return item
}

// LoadPrevious fetches the next older transcript page. At most one fetch per
// session is in flight; concurrent callers share its result.
// The fetch is detached from the caller that started it and bounded by
// FetchLockTTL, so a cancelled caller returns early without failing the others.
func (m *SessionManager) LoadPrevious(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	ch := m.fetches.DoChan(sessionID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FetchLockTTL)
		defer cancel()
		return m.fetchPage(fetchCtx, s)
	})

	select {
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.Debug("Joined in-flight transcript fetch", "session_id", sessionID)
		}
		if res.Err != nil {
			return domain.Snapshot{}, res.Err
		}
		return res.Val.(domain.Snapshot), nil
	}
}

func (m *SessionManager) fetchPage(ctx context.Context, s *Session) (domain.Snapshot, error) {
	gen, cursor, done, err := s.beginFetch()
	if err != nil {
		return domain.Snapshot{}, err
	}
	if done {
		return s.snapshot(m.now()), nil
	}

	lockKey := fetchLockKey(s.id)
	acquired, err := m.lock.Acquire(ctx, lockKey, m.cfg.FetchLockTTL)
	if err != nil {
		fetchCounter.WithLabelValues("error").Inc()
		return domain.Snapshot{}, fmt.Errorf("acquire fetch lock: %w", err)
	}
	if !acquired {
		fetchCounter.WithLabelValues("locked").Inc()
		return domain.Snapshot{}, ErrFetchInProgress
	}
	defer func() {
		if err := m.lock.Release(context.Background(), lockKey); err != nil {
			slog.Warn("Failed to release fetch lock", "error", err, "session_id", s.id)
		}
	}()

	page, err := m.source.GetTranscript(ctx, s.token(), dto.GetTranscriptRequest{
		MaxResults:    m.cfg.PageSize,
		NextToken:     cursor,
		ScanDirection: "BACKWARD",
		SortOrder:     "ASCENDING",
	})
	if err != nil {
		fetchCounter.WithLabelValues("error").Inc()
		return domain.Snapshot{}, fmt.Errorf("get transcript: %w", err)
	}

	snap, err := s.applyPage(gen, page, m.now())
	if err != nil {
		if errors.Is(err, ErrStaleFetch) {
			fetchCounter.WithLabelValues("stale").Inc()
			slog.Info("Discarding stale transcript page", "session_id", s.id, "generation", gen)
		}
		return domain.Snapshot{}, err
	}

	fetchCounter.WithLabelValues("success").Inc()
	m.publish(snap)
	return snap, nil
}

// SetConnectivity records a reachability change for the session
func (m *SessionManager) SetConnectivity(sessionID string, c domain.Connectivity, reason string) (domain.Snapshot, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	now := m.now()
	if !s.connectivity.Set(sessionID, c, reason, now) {
		return s.snapshot(now), nil
	}

	snap := s.touch(now)
	m.publish(snap)
	return snap, nil
}

// End clears the transcript, discards in-flight fetches and disconnects the participant
func (m *SessionManager) End(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	token := s.token()
	snap := s.end(m.now())
	m.fetches.Forget(sessionID)

	if s.connectivity.Current().Online() && token != "" {
		if err := m.sender.DisconnectParticipant(ctx, token); err != nil {
			slog.Warn("Failed to disconnect participant",
				"error", err,
				"session_id", sessionID,
			)
		}
	}

	slog.Info("Session ended", "session_id", sessionID)
	m.publish(snap)
	return snap, nil
}

// Snapshot returns the current snapshot, including for ended sessions
func (m *SessionManager) Snapshot(sessionID string) (domain.Snapshot, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return s.snapshot(m.now()), nil
}

// Count returns the number of sessions held in memory
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// evictWhere removes every session matching pred and returns their ids
func (m *SessionManager) evictWhere(pred func(s *Session) bool) []string {
	m.mu.Lock()
	var evicted []string
	for id, s := range m.sessions {
		if pred(s) {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	m.mu.Unlock()

	for _, id := range evicted {
		m.fetches.Forget(id)
		if m.publisher != nil {
			m.publisher.Forget(id)
		}
		activeSessionsGauge.Dec()
	}
	return evicted
}

func (m *SessionManager) get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

func (m *SessionManager) live(sessionID string) (*Session, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.isEnded() {
		return nil, fmt.Errorf("%w: %s", ErrSessionEnded, sessionID)
	}
	return s, nil
}

func (m *SessionManager) publish(snap domain.Snapshot) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(snap)
}

func fetchLockKey(sessionID string) string {
	return "transcript:fetch:" + sessionID
}

// notificationID peeks at the id of a raw element without full validation
func notificationID(raw json.RawMessage) string {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return ""
	}
	for _, k := range []string{"Id", "id"} {
		v, ok := keys[k]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(v, &id); err == nil && id != "" {
			return id
		}
	}
	return ""
}

// ============================================================================
// Session state
// ============================================================================

func newSession(p OpenParams, cfg SessionConfig, now time.Time) *Session {
	name := p.DisplayName
	if name == "" {
		name = "Customer"
	}
	return &Session{
		id:          p.SessionID,
		incarnation: uuid.NewString(),
		participant: domain.Participant{
			ID:          p.ParticipantID,
			Role:        domain.RoleCustomer,
			DisplayName: p.DisplayName,
		},
		connectivity: newConnectivityState(p.Connectivity, now),
		reconciler: transcript.NewReconciler(transcript.Options{
			LocalParticipantID: p.ParticipantID,
			PendingMatchWindow: cfg.PendingMatchWindow,
		}),
		display: transcript.NewDisplayAdapter(
			domain.DisplayUser{ID: p.ParticipantID, Name: name},
			domain.DisplayUser{ID: "counterparty", Name: "Agent"},
		),
		connectionToken: p.ConnectionToken,
		lastActive:      now,
	}
}

func (s *Session) apply(raw []json.RawMessage, local []domain.NormalizedItem, trigger string, now time.Time) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return domain.Snapshot{}, fmt.Errorf("%w: %s", ErrSessionEnded, s.id)
	}
	s.reconcileLocked(raw, local, trigger)
	s.lastActive = now
	return s.snapshotLocked(now), nil
}

func (s *Session) applyPage(gen uint64, page *dto.TranscriptPage, now time.Time) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || gen != s.fetchGen {
		return domain.Snapshot{}, ErrStaleFetch
	}
	s.reconcileLocked(page.Transcript, nil, "history")
	s.nextToken = page.NextToken
	if page.NextToken == "" {
		s.historyLoaded = true
	}
	s.lastActive = now
	return s.snapshotLocked(now), nil
}

func (s *Session) reconcileLocked(raw []json.RawMessage, local []domain.NormalizedItem, trigger string) {
	start := time.Now()

	known := make([]domain.NormalizedItem, 0, len(s.items)+len(local))
	known = append(known, s.items...)
	known = append(known, local...)

	items, stats := s.reconciler.ReconcileWithStats(raw, known)
	s.items = items
	s.version++

	reconcileDurationHist.Observe(time.Since(start).Seconds())
	reconcilePassesCounter.WithLabelValues(trigger).Inc()
	if stats.Dropped > 0 {
		itemsDroppedCounter.Add(float64(stats.Dropped))
	}
	if stats.Dropped > 0 || stats.ReceiptsUnmatched > 0 {
		slog.Debug("Reconciliation dropped input",
			"session_id", s.id,
			"dropped", stats.Dropped,
			"receipts_unmatched", stats.ReceiptsUnmatched,
		)
	}
}

func (s *Session) beginFetch() (gen uint64, cursor string, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return 0, "", false, fmt.Errorf("%w: %s", ErrSessionEnded, s.id)
	}
	if s.historyLoaded {
		return s.fetchGen, "", true, nil
	}
	s.fetchGen++
	return s.fetchGen, s.nextToken, false, nil
}

func (s *Session) end(now time.Time) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ended = true
	s.items = nil
	s.nextToken = ""
	s.fetchGen++
	s.version++
	s.lastActive = now
	return s.snapshotLocked(now)
}

func (s *Session) touch(now time.Time) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.lastActive = now
	return s.snapshotLocked(now)
}

// dedupKey scopes notification dedup to this incarnation, so a reopened
// session re-applies notifications its predecessor had seen
func (s *Session) dedupKey(itemID string) string {
	return "dedup:item:" + s.id + ":" + s.incarnation + ":" + itemID
}

func (s *Session) find(id string) (domain.NormalizedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.NormalizedItem{}, false
}

func (s *Session) refreshToken(token string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != "" {
		s.connectionToken = token
	}
	s.lastActive = now
}

func (s *Session) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionToken
}

func (s *Session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) snapshot(now time.Time) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now)
}

// snapshotLocked copies state so callers never share the session's slice
func (s *Session) snapshotLocked(now time.Time) domain.Snapshot {
	items := make([]domain.NormalizedItem, len(s.items))
	copy(items, s.items)

	return domain.Snapshot{
		SessionID:    s.id,
		Items:        items,
		Display:      s.display.DisplayList(items),
		NextToken:    s.nextToken,
		Version:      s.version,
		Connectivity: s.connectivity.Current(),
		Ended:        s.ended,
		UpdatedAt:    now,
	}
}
