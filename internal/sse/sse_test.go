package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
)

func setupManagerTest(t *testing.T) (*Manager, func()) {
	t.Helper()
	m := NewManager(slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cleanup := func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = m.Shutdown(shutdownCtx)
		cancel()
		<-done
	}
	return m, cleanup
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.EventChan:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.EventChan:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_FiltersByVisitor(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, cleanup := setupManagerTest(t)
	defer cleanup()

	a, err := m.Connect("vis-a")
	require.NoError(t, err)
	b, err := m.Connect("vis-b")
	require.NoError(t, err)
	assert.Equal(t, 2, m.ClientCount())

	m.EmitToVisitor("vis-a", NewAuthChangedEvent("", "ready", &domain.User{ID: "usr-1", Username: "ann"}))
	ev := receive(t, a)
	assert.Equal(t, EventAuthChanged, ev.Type)
	data, ok := ev.Data.(AuthEventData)
	require.True(t, ok)
	assert.Equal(t, "ann", data.User.Username)
	assertNothing(t, b)

	m.Emit(NewReviewCreatedEvent(&domain.Review{ID: "rev-1", Rating: 4}))
	assert.Equal(t, EventReviewCreated, receive(t, a).Type)
	assert.Equal(t, EventReviewCreated, receive(t, b).Type)

	m.Disconnect(a.ID)
	m.Disconnect(a.ID)
	assert.Equal(t, 1, m.ClientCount())
}

func TestManager_EmitAfterShutdownIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, cleanup := setupManagerTest(t)

	c, err := m.Connect("vis-a")
	require.NoError(t, err)
	cleanup()

	m.Emit(NewReviewCreatedEvent(&domain.Review{ID: "rev-1"}))
	_, open := <-c.Done
	assert.False(t, open)
	assert.Equal(t, 0, m.ClientCount())
}

func TestEvent_TokenNeverSerialized(t *testing.T) {
	ev := NewAuthChangedEvent("vis-a", "ready", &domain.User{ID: "usr-1", Token: "secret-token"})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
	assert.NotContains(t, string(raw), "vis-a")
}

func TestHandler_StreamsVisitorEvents(t *testing.T) {
	m, cleanup := setupManagerTest(t)
	defer cleanup()

	h := NewHandler(m, func(r *http.Request) (string, bool) {
		v := r.Header.Get("X-Visitor")
		return v, v != ""
	}, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Visitor", "vis-a")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	nextEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
				return name
			}
		}
		return ""
	}

	require.Equal(t, "connected", nextEvent())

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	m.EmitToVisitor("vis-b", NewAuthChangedEvent("", "ready", nil))
	m.EmitToVisitor("vis-a", NewAuthChangedEvent("", "ready", &domain.User{ID: "usr-1"}))
	assert.Equal(t, string(EventAuthChanged), nextEvent())
}

func TestHandler_UnknownVisitor(t *testing.T) {
	m := NewManager(slog.New(slog.DiscardHandler))
	h := NewHandler(m, func(*http.Request) (string, bool) { return "", false }, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
