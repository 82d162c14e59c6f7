package server

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/activities"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/journal"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/protocol"
	"go.uber.org/zap"
)

const defaultTaskBuffer = 256

var (
	errMissingIdentities = errors.New("identity pool dependency required")
	// ErrHubStopped is returned by calls made after the event loop exited.
	ErrHubStopped = errors.New("server: hub stopped")
)

// EventRecorder receives audit events. Record must not block.
type EventRecorder interface {
	Record(event journal.Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(journal.Event) {}

// HubConfig describes the dependencies of a Hub.
type HubConfig struct {
	Identities     identity.Pool
	Tracker        presence.Tracker
	Clock          func() time.Time
	Logger         *zap.Logger
	Metrics        *Metrics
	Journal        EventRecorder
	OutboundBuffer int
	WriteTimeout   time.Duration
}

// Hub owns the connection registry and the activity store. Every mutation runs on
// the goroutine executing Run, one task at a time, so domain state needs no locks.
type Hub struct {
	registry    *presence.Registry
	store       *activities.Store
	identities  identity.Pool
	tracker     presence.Tracker
	broadcaster *Broadcaster
	clock       func() time.Time
	logger      *zap.Logger
	metrics     *Metrics
	journal     EventRecorder

	outboundBuffer int
	writeTimeout   time.Duration

	tasks   chan func()
	stopped chan struct{}
}

// NewHub constructs a hub. Run must be called for queued work to execute.
func NewHub(cfg HubConfig) (*Hub, error) {
	if len(cfg.Identities.All()) == 0 {
		return nil, errMissingIdentities
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	var recorder EventRecorder = nopRecorder{}
	if cfg.Journal != nil {
		recorder = cfg.Journal
	}

	return &Hub{
		registry:       presence.NewRegistry(),
		store:          activities.NewStore(),
		identities:     cfg.Identities,
		tracker:        presence.NewTracker(cfg.Tracker.Interval, cfg.Tracker.Timeout),
		broadcaster:    NewBroadcaster(logger, metrics),
		clock:          clock,
		logger:         logger,
		metrics:        metrics,
		journal:        recorder,
		outboundBuffer: cfg.OutboundBuffer,
		writeTimeout:   cfg.WriteTimeout,
		tasks:          make(chan func(), defaultTaskBuffer),
		stopped:        make(chan struct{}),
	}, nil
}

// Run executes queued tasks and heartbeat sweeps until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.tracker.Interval)
	defer ticker.Stop()
	defer h.shutdown()

	h.logger.Info("presence hub started",
		zap.Duration("sweep_interval", h.tracker.Interval),
		zap.Duration("heartbeat_timeout", h.tracker.Timeout))

	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-h.tasks:
			task()
		case <-ticker.C:
			h.sweep()
		}
	}
}

// Connect registers a new connection with its outbound sink and returns its id.
func (h *Hub) Connect(sink Sink) (int64, bool) {
	reply := make(chan int64, 1)
	if !h.submit(func() { reply <- h.handleConnect(sink) }) {
		return 0, false
	}
	select {
	case id := <-reply:
		return id, true
	case <-h.stopped:
		return 0, false
	}
}

// Deliver queues an inbound text payload. Payloads from one connection are handled
// in the order they are delivered.
func (h *Hub) Deliver(connectionID int64, payload []byte) bool {
	return h.submit(func() { h.handleMessage(connectionID, payload) })
}

// Disconnect queues the removal of a connection.
func (h *Hub) Disconnect(connectionID int64, reason string) {
	h.submit(func() { h.handleDisconnect(connectionID, reason) })
}

// Snapshot returns the current state as seen by the event loop.
func (h *Hub) Snapshot(ctx context.Context) (protocol.State, error) {
	reply := make(chan protocol.State, 1)
	if !h.submit(func() { reply <- h.snapshot() }) {
		return protocol.State{}, ErrHubStopped
	}
	select {
	case state := <-reply:
		return state, nil
	case <-h.stopped:
		return protocol.State{}, ErrHubStopped
	case <-ctx.Done():
		return protocol.State{}, ctx.Err()
	}
}

// Identities returns the identity pool.
func (h *Hub) Identities() []identity.Identity {
	return h.identities.All()
}

func (h *Hub) submit(task func()) bool {
	select {
	case <-h.stopped:
		return false
	default:
	}
	select {
	case h.tasks <- task:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) shutdown() {
	close(h.stopped)
	for _, conn := range h.registry.Connections() {
		h.registry.Remove(conn.ID)
		h.metrics.connectionClosed(disconnectReasonShutdown)
	}
	h.broadcaster.CloseAll()
	h.logger.Info("presence hub stopped")
}

func (h *Hub) handleConnect(sink Sink) int64 {
	now := h.clock()
	connectionID := h.registry.Accept(now)
	h.broadcaster.Attach(connectionID, sink)
	h.metrics.connectionOpened()
	h.journal.Record(journal.Event{
		Kind:              journal.KindConnected,
		ConnectionID:      connectionID,
		OccurredAtSeconds: now.Unix(),
	})
	h.logger.Info("connection accepted", zap.Int64("connection_id", connectionID))

	h.broadcaster.Send(connectionID, protocol.NewWelcome(connectionID, h.registry.ClaimedIDs()))
	return connectionID
}

func (h *Hub) handleDisconnect(connectionID int64, reason string) {
	if sink := h.broadcaster.Detach(connectionID); sink != nil {
		sink.Close()
	}
	conn, ok := h.registry.Remove(connectionID)
	if !ok {
		return
	}
	h.metrics.connectionClosed(reason)
	h.journal.Record(journal.Event{
		Kind:              journal.KindDisconnected,
		ConnectionID:      connectionID,
		UserID:            conn.UserID,
		Detail:            reason,
		OccurredAtSeconds: h.clock().Unix(),
	})
	h.logger.Info("connection closed",
		zap.Int64("connection_id", connectionID),
		zap.String("user_id", conn.UserID),
		zap.String("reason", reason))
	h.broadcastState()
}

func (h *Hub) sweep() {
	now := h.clock()
	evicted := h.tracker.Sweep(h.registry, now)
	if len(evicted) == 0 {
		return
	}
	for _, conn := range evicted {
		if sink := h.broadcaster.Detach(conn.ID); sink != nil {
			sink.Close()
		}
		h.metrics.connectionClosed(disconnectReasonEvicted)
		h.journal.Record(journal.Event{
			Kind:              journal.KindEvicted,
			ConnectionID:      conn.ID,
			UserID:            conn.UserID,
			Detail:            now.Sub(conn.LastHeartbeat).Truncate(time.Second).String(),
			OccurredAtSeconds: now.Unix(),
		})
		h.logger.Info("heartbeat expired",
			zap.Int64("connection_id", conn.ID),
			zap.String("user_id", conn.UserID),
			zap.Time("last_heartbeat", conn.LastHeartbeat))
	}
	h.broadcastState()
}

func (h *Hub) snapshot() protocol.State {
	return protocol.NewState(h.registry.Users(), h.store.List())
}

func (h *Hub) broadcastState() {
	h.broadcaster.Publish(h.snapshot())
}
