package server

import (
	"strconv"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/activities"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/journal"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/protocol"
	"go.uber.org/zap"
)

const (
	resultApplied  = "applied"
	resultRejected = "rejected"
)

func (h *Hub) handleMessage(connectionID int64, payload []byte) {
	if _, ok := h.registry.Get(connectionID); !ok {
		return
	}
	logger := h.logger.With(zap.Int64("connection_id", connectionID))

	message, err := protocol.DecodeInbound(payload)
	if err != nil {
		h.metrics.inboundError("malformed_envelope")
		logger.Warn("inbound payload dropped", zap.Error(err))
		return
	}

	h.registry.TouchHeartbeat(connectionID, h.clock())
	h.route(connectionID, message, logger.With(zap.String("message_type", message.MessageType())))
}

func (h *Hub) route(connectionID int64, message protocol.Inbound, logger *zap.Logger) {
	switch msg := message.(type) {
	case protocol.Register:
		h.handleRegister(connectionID, msg.UserID, logger)
	case protocol.Heartbeat:
	case protocol.StatusUpdate:
		h.handleStatusUpdate(connectionID, msg.Status, logger)
	case protocol.GetState:
		h.broadcaster.Send(connectionID, h.snapshot())
	case protocol.ActivityCreate:
		result := h.store.Create(*msg.Activity)
		h.afterActivityOperation(journal.KindActivityCreated, connectionID, msg.Activity.ID, "", result, logger)
		h.broadcastState()
	case protocol.ActivityUpdate:
		result := h.store.Update(*msg.Activity)
		h.afterActivityOperation(journal.KindActivityUpdated, connectionID, msg.Activity.ID, "", result, logger)
		h.broadcastState()
	case protocol.ActivityDelete:
		result := h.store.Delete(msg.ActivityID)
		h.afterActivityOperation(journal.KindActivityDeleted, connectionID, msg.ActivityID, "", result, logger)
		h.broadcastState()
	case protocol.ActivityJoin:
		result := h.store.Join(msg.ActivityID, h.identities.Profile(msg.UserID), h.clock())
		h.afterActivityOperation(journal.KindActivityJoined, connectionID, msg.ActivityID, msg.UserID, result, logger)
		h.broadcastState()
	case protocol.ActivityLeave:
		result := h.store.Leave(msg.ActivityID, msg.UserID)
		h.afterActivityOperation(journal.KindActivityLeft, connectionID, msg.ActivityID, msg.UserID, result, logger)
		h.broadcastState()
	case protocol.SyncActivities:
		h.handleSync(connectionID, msg.Activities, logger)
	case protocol.Unknown:
		h.metrics.inboundError("unknown_type")
		logger.Info("unknown message type ignored")
	}
}

func (h *Hub) handleRegister(connectionID int64, userID string, logger *zap.Logger) {
	if userID == "" {
		logger.Debug("register without user id ignored")
		return
	}
	result := h.registry.Register(connectionID, userID)
	now := h.clock().Unix()
	if !result.Accepted {
		h.metrics.registration(result.Reason)
		h.journal.Record(journal.Event{
			Kind:              journal.KindRegisterRejected,
			ConnectionID:      connectionID,
			UserID:            userID,
			Detail:            result.Reason,
			OccurredAtSeconds: now,
		})
		logger.Info("registration rejected", zap.String("user_id", userID), zap.String("reason", result.Reason))
		h.broadcaster.Send(connectionID, protocol.NewRegisterRejected(result.Reason, result.TakenIDs))
		return
	}

	h.metrics.registration("accepted")
	h.journal.Record(journal.Event{
		Kind:              journal.KindRegistered,
		ConnectionID:      connectionID,
		UserID:            userID,
		Detail:            result.Released,
		OccurredAtSeconds: now,
	})
	if _, known := h.identities.Lookup(userID); !known {
		logger.Warn("identity outside the pool registered", zap.String("user_id", userID))
	}
	logger.Info("connection registered",
		zap.String("user_id", userID),
		zap.String("name", h.identities.Profile(userID).Name))
	h.broadcastState()
}

func (h *Hub) handleStatusUpdate(connectionID int64, raw string, logger *zap.Logger) {
	status, ok := presence.ParseStatus(raw)
	if !ok {
		logger.Warn("invalid status ignored", zap.String("status", raw))
		return
	}
	if !h.registry.SetStatus(connectionID, status) {
		logger.Debug("status update before registration ignored")
		return
	}
	conn, _ := h.registry.Get(connectionID)
	h.journal.Record(journal.Event{
		Kind:              journal.KindStatusChanged,
		ConnectionID:      connectionID,
		UserID:            conn.UserID,
		Detail:            string(status),
		OccurredAtSeconds: h.clock().Unix(),
	})
	logger.Info("status changed", zap.String("user_id", conn.UserID), zap.String("status", string(status)))
	h.broadcastState()
}

func (h *Hub) handleSync(connectionID int64, batch []activities.Activity, logger *zap.Logger) {
	added := h.store.Sync(batch)
	h.metrics.activityOperation(journal.KindActivitiesSynced.String(), resultApplied)
	if added == 0 {
		logger.Debug("sync brought nothing new", zap.Int("offered", len(batch)))
		return
	}
	h.journal.Record(journal.Event{
		Kind:              journal.KindActivitiesSynced,
		ConnectionID:      connectionID,
		Detail:            pluralActivities(added),
		OccurredAtSeconds: h.clock().Unix(),
	})
	logger.Info("activities synced", zap.Int("offered", len(batch)), zap.Int("added", added))
	h.broadcastState()
}

func (h *Hub) afterActivityOperation(kind journal.Kind, connectionID int64, activityID, userID string, result activities.Result, logger *zap.Logger) {
	if !result.Applied {
		h.metrics.activityOperation(kind.String(), resultRejected)
		logger.Debug("activity operation had no effect",
			zap.String("activity_id", activityID),
			zap.String("user_id", userID),
			zap.String("reason", result.Reason))
		return
	}
	h.metrics.activityOperation(kind.String(), resultApplied)
	h.journal.Record(journal.Event{
		Kind:              kind,
		ConnectionID:      connectionID,
		ActivityID:        activityID,
		UserID:            userID,
		OccurredAtSeconds: h.clock().Unix(),
	})
	logger.Info("activity changed", zap.String("activity_id", activityID), zap.String("user_id", userID))
}

func pluralActivities(count int) string {
	if count == 1 {
		return "1 activity"
	}
	return strconv.Itoa(count) + " activities"
}
