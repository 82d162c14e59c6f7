package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/wsframe"
	"go.uber.org/zap"
)

const (
	defaultOutboundBuffer = 64
	defaultWriteTimeout   = 10 * time.Second

	disconnectReasonCloseFrame = "close_frame"
	disconnectReasonReadError  = "read_error"
	disconnectReasonEOF        = "socket_closed"
	disconnectReasonEvicted    = "heartbeat_timeout"
	disconnectReasonShutdown   = "shutdown"
)

// connWriter is the Sink for one socket. Frames are written by a dedicated
// goroutine so a slow peer only ever fills its own queue.
type connWriter struct {
	conn         net.Conn
	queue        chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *zap.Logger
}

func newConnWriter(conn net.Conn, buffer int, writeTimeout time.Duration, logger *zap.Logger) *connWriter {
	if buffer <= 0 {
		buffer = defaultOutboundBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &connWriter{
		conn:         conn,
		queue:        make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (w *connWriter) Enqueue(frame []byte) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.queue <- frame:
		return true
	default:
		return false
	}
}

func (w *connWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
}

func (w *connWriter) run() {
	defer w.conn.Close()
	for {
		select {
		case frame := <-w.queue:
			w.write(frame)
		case <-w.done:
			w.flush()
			if closeFrame, err := wsframe.Encode(wsframe.OpClose, nil); err == nil {
				w.write(closeFrame)
			}
			return
		}
	}
}

func (w *connWriter) flush() {
	for {
		select {
		case frame := <-w.queue:
			w.write(frame)
		default:
			return
		}
	}
}

func (w *connWriter) write(frame []byte) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		w.logger.Debug("set write deadline failed", zap.Error(err))
	}
	if _, err := w.conn.Write(frame); err != nil {
		w.logger.Debug("socket write failed", zap.Error(err))
	}
}

// Serve runs the read side of an upgraded connection until the peer goes away.
// reader must wrap conn and may already hold buffered bytes from the handshake.
func (h *Hub) Serve(conn net.Conn, reader io.Reader) {
	writer := newConnWriter(conn, h.outboundBuffer, h.writeTimeout, h.logger)
	go writer.run()

	connectionID, ok := h.Connect(writer)
	if !ok {
		writer.Close()
		return
	}
	logger := h.logger.With(zap.Int64("connection_id", connectionID))
	logger.Debug("connection reader started", zap.String("remote_addr", conn.RemoteAddr().String()))

	reason := h.readLoop(connectionID, reader, logger)
	h.Disconnect(connectionID, reason)
}

func (h *Hub) readLoop(connectionID int64, reader io.Reader, logger *zap.Logger) string {
	for {
		frame, err := wsframe.ReadFrame(reader)
		if err != nil {
			if wsframe.IsRecoverable(err) {
				logger.Warn("frame dropped", zap.Error(err))
				h.metrics.inboundError(frameErrorReason(err))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return disconnectReasonEOF
			}
			logger.Debug("connection read failed", zap.Error(err))
			return disconnectReasonReadError
		}

		switch frame.Opcode {
		case wsframe.OpClose:
			return disconnectReasonCloseFrame
		case wsframe.OpPing, wsframe.OpPong:
			continue
		case wsframe.OpText, wsframe.OpBinary:
			if !h.Deliver(connectionID, frame.Payload) {
				return disconnectReasonShutdown
			}
		default:
			logger.Debug("unsupported opcode ignored", zap.Uint8("opcode", uint8(frame.Opcode)))
			h.metrics.inboundError("unsupported_opcode")
		}
	}
}

func frameErrorReason(err error) string {
	switch {
	case errors.Is(err, wsframe.ErrUnmaskedFrame):
		return "unmasked_frame"
	case errors.Is(err, wsframe.ErrUnsupportedLength):
		return "unsupported_length"
	case errors.Is(err, wsframe.ErrInvalidText):
		return "invalid_utf8"
	default:
		return "frame_error"
	}
}
