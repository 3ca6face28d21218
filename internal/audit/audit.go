package audit

import (
	"context"

	"github.com/weiawesome/melo-live/pkg/log"
)

// Audit actions for the realtime core.
const (
	ActionConnect     = "realtime.connect"
	ActionAuthFailed  = "realtime.auth_failed"
	ActionJoinRoom    = "realtime.join_room"
	ActionLeaveRoom   = "realtime.leave_room"
	ActionSendMessage = "realtime.send_message"
	ActionDisconnect  = "realtime.disconnect"
	ActionMirrorFail  = "realtime.mirror_failed"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithTarget emits an audit log naming the acted-on entity (room, message).
func LogWithTarget(ctx context.Context, action string, userID string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}
