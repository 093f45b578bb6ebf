package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connect-chat/internal/adapters/dto"
)

func newTestClient(srv *httptest.Server) *ParticipantClient {
	c := NewParticipantClient(srv.URL+"/", srv.URL+"/start")
	c.backoff = time.Millisecond
	return c
}

// TestGetTranscript tests request shape and page decoding
func TestGetTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/participant/transcript", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("X-Amz-Bearer"))

		var req dto.GetTranscriptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cursor", req.NextToken)

		_, _ = w.Write([]byte(`{"InitialContactId":"c1","Transcript":[{"Id":"m1"},null],"NextToken":"older"}`))
	}))
	defer srv.Close()

	page, err := newTestClient(srv).GetTranscript(context.Background(), "tok", dto.GetTranscriptRequest{NextToken: "cursor"})

	require.NoError(t, err)
	assert.Equal(t, "older", page.NextToken)
	require.Len(t, page.Transcript, 2)
	assert.JSONEq(t, `{"Id":"m1"}`, string(page.Transcript[0]))
}

// TestSendMessage tests the success path
func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/participant/message", r.URL.Path)
		_, _ = w.Write([]byte(`{"Id":"S1","AbsoluteTime":"2024-05-01T12:00:01.000Z"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).SendMessage(context.Background(), "tok", dto.SendMessageRequest{ContentType: "text/plain", Content: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "S1", resp.ID)
}

// TestErrorMapping tests sentinel errors for auth and throttling
func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrSessionExpired},
		{http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"message":"nope","__type":"AccessDeniedException"}`))
		}))

		_, err := newTestClient(srv).SendEvent(context.Background(), "tok", dto.SendEventRequest{ContentType: "x"})
		assert.ErrorIs(t, err, tt.want)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "status %d must not be retried", tt.status)
		srv.Close()
	}
}

// TestRetryOnServerError tests that 5xx answers are retried
func TestRetryOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"Id":"S2"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).SendMessage(context.Background(), "tok", dto.SendMessageRequest{})

	require.NoError(t, err)
	assert.Equal(t, "S2", resp.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestRetryExhausted tests the final error after all attempts fail
func TestRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestClient(srv).DisconnectParticipant(context.Background(), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

// TestStartChat tests both upstream response shapes
func TestStartChat(t *testing.T) {
	bodies := []string{
		`{"ContactId":"c1","ParticipantId":"p1","ParticipantToken":"pt1"}`,
		`{"data":{"startChatResult":{"ContactId":"c1","ParticipantId":"p1","ParticipantToken":"pt1"}}}`,
	}

	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/start", r.URL.Path)
			assert.Empty(t, r.Header.Get("X-Amz-Bearer"))

			var req dto.StartChatContactRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "inst", req.InstanceID)
			assert.Equal(t, "Jane", req.ParticipantDetails.DisplayName)

			_, _ = w.Write([]byte(body))
		}))

		result, err := newTestClient(srv).StartChat(context.Background(), "inst", "flow", dto.StartChatRequest{CustomerName: "Jane"})
		require.NoError(t, err)
		assert.Equal(t, dto.StartChatResult{ContactID: "c1", ParticipantID: "p1", ParticipantToken: "pt1"}, *result)
		srv.Close()
	}
}

// TestStartChat_MissingToken tests rejection of an incomplete upstream answer
func TestStartChat_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ContactId":"c1"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).StartChat(context.Background(), "inst", "flow", dto.StartChatRequest{CustomerName: "Jane"})
	assert.Error(t, err)
}
