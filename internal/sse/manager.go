package sse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfnotes/shelfnotes-server/internal/id"
)

const (
	queueSize        = 1000
	clientBufferSize = 100
)

// Client is one open event stream.
type Client struct {
	ID          string
	VisitorID   string
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
}

func (c *Client) close() {
	close(c.Done)
	close(c.EventChan)
}

// Manager fans queued events out to the streams of each visitor.
type Manager struct {
	logger *slog.Logger
	queue  chan Event
	exited chan struct{}

	mu        sync.RWMutex
	byVisitor map[string]map[string]*Client
	byID      map[string]*Client

	// queueMu guards sends on queue against the close in Shutdown.
	queueMu sync.RWMutex
	closed  bool
}

// NewManager returns a Manager. Call Start to begin delivery.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger,
		queue:     make(chan Event, queueSize),
		exited:    make(chan struct{}),
		byVisitor: make(map[string]map[string]*Client),
		byID:      make(map[string]*Client),
	}
}

// Start delivers queued events until the queue is closed by Shutdown or ctx
// is canceled. It blocks.
func (m *Manager) Start(ctx context.Context) {
	defer close(m.exited)
	m.logger.Info("SSE manager starting")

	for {
		select {
		case ev, ok := <-m.queue:
			if !ok {
				return
			}
			m.deliver(ev)
		case <-ctx.Done():
			m.logger.Info("SSE manager stopping")
			m.disconnectAll()
			return
		}
	}
}

// Shutdown stops accepting events, waits for the queue to drain and then
// closes every stream. Calling it twice is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.queueMu.Unlock()

	select {
	case <-m.exited:
	case <-ctx.Done():
		m.logger.Warn("SSE queue not drained before deadline")
	}

	m.disconnectAll()
	m.logger.Info("SSE manager stopped")
	return nil
}

func (m *Manager) deliver(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ev.VisitorID != "" {
		for _, c := range m.byVisitor[ev.VisitorID] {
			m.offer(c, ev)
		}
		return
	}
	for _, c := range m.byID {
		m.offer(c, ev)
	}
}

// offer never blocks; a stream that has fallen behind loses the event.
func (m *Manager) offer(c *Client, ev Event) {
	select {
	case c.EventChan <- ev:
	default:
		m.logger.Warn("dropped event for slow client",
			slog.String("client_id", c.ID),
			slog.String("event_type", string(ev.Type)))
	}
}

// Connect opens a stream for visitorID.
func (m *Manager) Connect(visitorID string) (*Client, error) {
	clientID, err := id.Generate(id.PrefixClient)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ID:          clientID,
		VisitorID:   visitorID,
		ConnectedAt: time.Now(),
		EventChan:   make(chan Event, clientBufferSize),
		Done:        make(chan struct{}),
	}

	m.mu.Lock()
	streams := m.byVisitor[visitorID]
	if streams == nil {
		streams = make(map[string]*Client)
		m.byVisitor[visitorID] = streams
	}
	streams[clientID] = c
	m.byID[clientID] = c
	total := len(m.byID)
	m.mu.Unlock()

	m.logger.Debug("SSE client connected",
		slog.String("client_id", clientID),
		slog.String("visitor_id", visitorID),
		slog.Int("total_clients", total))
	return c, nil
}

// Disconnect closes one stream. Unknown ids are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.byID[clientID]
	if ok {
		delete(m.byID, clientID)
		if streams := m.byVisitor[c.VisitorID]; streams != nil {
			delete(streams, clientID)
			if len(streams) == 0 {
				delete(m.byVisitor, c.VisitorID)
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	c.close()
	m.logger.Debug("SSE client disconnected",
		slog.String("client_id", clientID),
		slog.Duration("duration", time.Since(c.ConnectedAt)))
}

// Emit queues ev. Events emitted after Shutdown, or while the queue is full,
// are dropped.
func (m *Manager) Emit(ev Event) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- ev:
	default:
		m.logger.Error("SSE queue full, dropping event",
			slog.String("event_type", string(ev.Type)))
	}
}

// EmitToVisitor queues ev for the streams of visitorID only.
func (m *Manager) EmitToVisitor(visitorID string, ev Event) {
	ev.VisitorID = visitorID
	m.Emit(ev)
}

// ClientCount returns the number of open streams.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *Manager) disconnectAll() {
	m.mu.Lock()
	clients := m.byID
	m.byID = make(map[string]*Client)
	m.byVisitor = make(map[string]map[string]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
