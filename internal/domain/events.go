package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Inbound event kinds (client -> server). The connect event is the upgrade
// request itself; its credential travels in connection-establishment metadata.
const (
	EventConnect          = "connect"
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventMessageDelivered = "message_delivered"
	EventMessageRead      = "message_read"
)

// Outbound event kinds (server -> client).
const (
	EventConnected      = "connected"
	EventAuthError      = "auth_error"
	EventJoinedSession  = "joined_session"
	EventLeftSession    = "left_session"
	EventJoinError      = "join_error"
	// EventLeaveError is reserved in the protocol; leave is idempotent and
	// currently has no rejection path that would emit it.
	EventLeaveError = "leave_error"
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventUserTyping     = "user_typing"
	EventRateLimitError = "rate_limit_error"
	EventServerError    = "server_error"
	EventError          = "error"
)

// MaxContentLength is the upper bound on message content, counted in runes.
const MaxContentLength = 2000

// BaseEvent carries the discriminator of every inbound frame.
type BaseEvent struct {
	Type string `json:"type"`
}

// Inbound is one decoded, validated client event.
type Inbound interface {
	Kind() string
	Validate() error
}

// Client -> Server events

type JoinRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func (e *JoinRoomEvent) Kind() string { return EventJoinRoom }

func (e *JoinRoomEvent) Validate() error {
	if strings.TrimSpace(e.RoomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrValidation)
	}
	return nil
}

type LeaveRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func (e *LeaveRoomEvent) Kind() string { return EventLeaveRoom }

func (e *LeaveRoomEvent) Validate() error {
	if strings.TrimSpace(e.RoomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrValidation)
	}
	return nil
}

type SendMessageEvent struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

func (e *SendMessageEvent) Kind() string { return EventSendMessage }

func (e *SendMessageEvent) Validate() error {
	if strings.TrimSpace(e.RoomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrValidation)
	}
	if strings.TrimSpace(e.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if utf8.RuneCountInString(e.Content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentLength)
	}
	return nil
}

type TypingStartEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func (e *TypingStartEvent) Kind() string { return EventTypingStart }

func (e *TypingStartEvent) Validate() error {
	if strings.TrimSpace(e.RoomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrValidation)
	}
	return nil
}

type TypingStopEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func (e *TypingStopEvent) Kind() string { return EventTypingStop }

func (e *TypingStopEvent) Validate() error {
	if strings.TrimSpace(e.RoomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrValidation)
	}
	return nil
}

type MessageDeliveredEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

func (e *MessageDeliveredEvent) Kind() string { return EventMessageDelivered }

func (e *MessageDeliveredEvent) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("%w: message_id is required", ErrValidation)
	}
	return nil
}

type MessageReadEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

func (e *MessageReadEvent) Kind() string { return EventMessageRead }

func (e *MessageReadEvent) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("%w: message_id is required", ErrValidation)
	}
	return nil
}

// DecodeInbound parses a raw frame into its typed event and validates it.
// Unknown kinds and malformed frames come back as ErrValidation.
func DecodeInbound(data []byte) (Inbound, error) {
	var base BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: invalid event frame", ErrValidation)
	}

	var ev Inbound
	switch base.Type {
	case EventJoinRoom:
		ev = &JoinRoomEvent{}
	case EventLeaveRoom:
		ev = &LeaveRoomEvent{}
	case EventSendMessage:
		ev = &SendMessageEvent{}
	case EventTypingStart:
		ev = &TypingStartEvent{}
	case EventTypingStop:
		ev = &TypingStopEvent{}
	case EventMessageDelivered:
		ev = &MessageDeliveredEvent{}
	case EventMessageRead:
		ev = &MessageReadEvent{}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, base.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: invalid %s payload", ErrValidation, base.Type)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Server -> Client events

type ConnectedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func NewConnectedEvent(userID string) *ConnectedEvent {
	return &ConnectedEvent{Type: EventConnected, UserID: userID}
}

type AuthErrorEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewAuthErrorEvent(reason string) *AuthErrorEvent {
	return &AuthErrorEvent{Type: EventAuthError, Reason: reason}
}

type JoinedSessionEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func NewJoinedSessionEvent(roomID string) *JoinedSessionEvent {
	return &JoinedSessionEvent{Type: EventJoinedSession, RoomID: roomID}
}

type LeftSessionEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func NewLeftSessionEvent(roomID string) *LeftSessionEvent {
	return &LeftSessionEvent{Type: EventLeftSession, RoomID: roomID}
}

type JoinErrorEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func NewJoinErrorEvent(roomID, code, reason string) *JoinErrorEvent {
	return &JoinErrorEvent{Type: EventJoinError, RoomID: roomID, Code: code, Reason: reason}
}

type NewMessageEvent struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	RoomID     string `json:"room_id"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

func NewNewMessageEvent(msg *Message) *NewMessageEvent {
	return &NewMessageEvent{
		Type:       EventNewMessage,
		MessageID:  msg.MessageID,
		RoomID:     msg.RoomID,
		Sender:     msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		Timestamp:  msg.CreatedAt.UnixMilli(),
	}
}

type MessageSentEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

func NewMessageSentEvent(messageID string, at time.Time) *MessageSentEvent {
	return &MessageSentEvent{Type: EventMessageSent, MessageID: messageID, Timestamp: at.UnixMilli()}
}

type UserJoinedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

func NewUserJoinedEvent(userID, roomID string) *UserJoinedEvent {
	return &UserJoinedEvent{Type: EventUserJoined, UserID: userID, RoomID: roomID}
}

type UserLeftEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

func NewUserLeftEvent(userID, roomID string) *UserLeftEvent {
	return &UserLeftEvent{Type: EventUserLeft, UserID: userID, RoomID: roomID}
}

type UserTypingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

func NewUserTypingEvent(userID, roomID string, isTyping bool) *UserTypingEvent {
	return &UserTypingEvent{Type: EventUserTyping, UserID: userID, RoomID: roomID, IsTyping: isTyping}
}

type RateLimitErrorEvent struct {
	Type       string `json:"type"`
	Event      string `json:"event"`
	RetryAfter int    `json:"retry_after"`
}

func NewRateLimitErrorEvent(event string, retryAfter int) *RateLimitErrorEvent {
	return &RateLimitErrorEvent{Type: EventRateLimitError, Event: event, RetryAfter: retryAfter}
}

type ServerErrorEvent struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

func NewServerErrorEvent(event string, at time.Time) *ServerErrorEvent {
	return &ServerErrorEvent{Type: EventServerError, Event: event, Timestamp: at.UnixMilli()}
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Code: code, Message: message}
}
