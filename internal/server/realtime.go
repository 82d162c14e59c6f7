package server

import (
	"encoding/json"
	"sync"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/wsframe"
	"go.uber.org/zap"
)

const (
	dropReasonQueueFull   = "queue_full"
	dropReasonEncode      = "encode_failed"
	dropReasonUnknownConn = "unknown_connection"
)

// Sink receives encoded frames for one connection. Enqueue must not block.
type Sink interface {
	Enqueue(frame []byte) bool
	Close()
}

// Broadcaster fans encoded envelopes out to connection sinks. A sink that cannot
// take a frame loses that frame; nothing propagates back to the caller.
type Broadcaster struct {
	mu      sync.RWMutex
	sinks   map[int64]Sink
	logger  *zap.Logger
	metrics *Metrics
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(logger *zap.Logger, metrics *Metrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Broadcaster{
		sinks:   make(map[int64]Sink),
		logger:  logger,
		metrics: metrics,
	}
}

// Attach registers the sink for a connection.
func (b *Broadcaster) Attach(connectionID int64, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[connectionID] = sink
}

// Detach unregisters and returns the sink for a connection.
func (b *Broadcaster) Detach(connectionID int64) Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	sink := b.sinks[connectionID]
	delete(b.sinks, connectionID)
	return sink
}

// Publish encodes message once and offers it to every attached sink.
func (b *Broadcaster) Publish(message any) int {
	frame, ok := b.encode(message)
	if !ok {
		return 0
	}
	b.mu.RLock()
	targets := make(map[int64]Sink, len(b.sinks))
	for id, sink := range b.sinks {
		targets[id] = sink
	}
	b.mu.RUnlock()

	delivered := 0
	for id, sink := range targets {
		if b.offer(id, sink, frame) {
			delivered++
		}
	}
	b.metrics.snapshotPublished()
	return delivered
}

// Send encodes message and offers it to a single connection.
func (b *Broadcaster) Send(connectionID int64, message any) bool {
	b.mu.RLock()
	sink, ok := b.sinks[connectionID]
	b.mu.RUnlock()
	if !ok {
		b.metrics.frameDropped(dropReasonUnknownConn)
		return false
	}
	frame, encoded := b.encode(message)
	if !encoded {
		return false
	}
	return b.offer(connectionID, sink, frame)
}

// CloseAll detaches and closes every sink.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	sinks := b.sinks
	b.sinks = make(map[int64]Sink)
	b.mu.Unlock()
	for _, sink := range sinks {
		sink.Close()
	}
}

// Len returns the number of attached sinks.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

func (b *Broadcaster) offer(connectionID int64, sink Sink, frame []byte) bool {
	if sink.Enqueue(frame) {
		return true
	}
	b.metrics.frameDropped(dropReasonQueueFull)
	b.logger.Warn("outbound frame dropped", zap.Int64("connection_id", connectionID))
	return false
}

func (b *Broadcaster) encode(message any) ([]byte, bool) {
	payload, err := json.Marshal(message)
	if err != nil {
		b.metrics.frameDropped(dropReasonEncode)
		b.logger.Error("failed to marshal envelope", zap.Error(err))
		return nil, false
	}
	frame, err := wsframe.EncodeText(string(payload))
	if err != nil {
		b.metrics.frameDropped(dropReasonEncode)
		b.logger.Error("failed to encode frame", zap.Int("payload_bytes", len(payload)), zap.Error(err))
		return nil, false
	}
	return frame, true
}
