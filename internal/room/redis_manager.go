package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/melo-live/internal/domain"
)

// Redis key patterns:
// {prefix}:room:{room_id}:participants   SET<connection_id>   - live members
// {prefix}:room:{room_id}:meta           STRING<json>         - room metadata
// {prefix}:conn:{connection_id}:rooms    SET<room_id>         - rooms per connection
// {prefix}:user:{user_id}:rooms          SET<room_id>         - rooms per user
// {prefix}:typing:{room_id}:{conn_id}    STRING<"1">          - typing marker
//
// Participant sets carry no TTL; empty sets disappear on their own and
// stale members are pruned lazily when the room is read.

// CreatedBySystem marks room metadata that was created implicitly by a
// first join rather than by an operator.
const CreatedBySystem = "system"

// Options configures the Redis room manager.
type Options struct {
	Prefix      string
	MetadataTTL time.Duration
	TypingTTL   time.Duration
	SessionTTL  time.Duration
}

type redisManager struct {
	client   *redis.Client
	resolver ConnectionResolver
	opts     Options
}

// NewRedisManager creates a Redis-backed room manager.
func NewRedisManager(client *redis.Client, resolver ConnectionResolver, opts Options) Manager {
	return &redisManager{
		client:   client,
		resolver: resolver,
		opts:     opts,
	}
}

func (m *redisManager) participantsKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s:participants", m.opts.Prefix, roomID)
}

func (m *redisManager) metaKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s:meta", m.opts.Prefix, roomID)
}

func (m *redisManager) connRoomsKey(connectionID string) string {
	return fmt.Sprintf("%s:conn:%s:rooms", m.opts.Prefix, connectionID)
}

func (m *redisManager) userRoomsKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:rooms", m.opts.Prefix, userID)
}

func (m *redisManager) typingKey(roomID, connectionID string) string {
	return fmt.Sprintf("%s:typing:%s:%s", m.opts.Prefix, roomID, connectionID)
}

func (m *redisManager) Join(ctx context.Context, connectionID, userID, roomID string) (bool, bool, error) {
	meta := domain.RoomMetadata{
		RoomID:    roomID,
		Name:      roomID,
		CreatedBy: CreatedBySystem,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return false, false, fmt.Errorf("failed to marshal room metadata: %w", err)
	}

	pipe := m.client.TxPipeline()
	added := pipe.SAdd(ctx, m.participantsKey(roomID), connectionID)
	pipe.SAdd(ctx, m.connRoomsKey(connectionID), roomID)
	pipe.Expire(ctx, m.connRoomsKey(connectionID), m.opts.SessionTTL)
	pipe.SAdd(ctx, m.userRoomsKey(userID), roomID)
	pipe.Expire(ctx, m.userRoomsKey(userID), m.opts.SessionTTL)
	createdCmd := pipe.SetNX(ctx, m.metaKey(roomID), metaData, m.opts.MetadataTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, false, fmt.Errorf("failed to join room: %w", err)
	}

	return added.Val() == 1, createdCmd.Val(), nil
}

func (m *redisManager) Leave(ctx context.Context, connectionID, userID, roomID string) (bool, error) {
	pipe := m.client.TxPipeline()
	removed := pipe.SRem(ctx, m.participantsKey(roomID), connectionID)
	pipe.SRem(ctx, m.connRoomsKey(connectionID), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to leave room: %w", err)
	}
	if removed.Val() == 0 {
		return false, nil
	}

	stillInRoom, err := m.userStillInRoom(ctx, connectionID, userID, roomID)
	if err != nil {
		return true, err
	}
	if !stillInRoom {
		if err := m.client.SRem(ctx, m.userRoomsKey(userID), roomID).Err(); err != nil {
			return true, fmt.Errorf("failed to update user rooms: %w", err)
		}
	}
	return true, nil
}

// userStillInRoom reports whether any other connection of the user remains
// in the room.
func (m *redisManager) userStillInRoom(ctx context.Context, connectionID, userID, roomID string) (bool, error) {
	conns, err := m.resolver.UserConnections(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list user connections: %w", err)
	}

	others := make([]interface{}, 0, len(conns))
	for _, id := range conns {
		if id != connectionID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return false, nil
	}

	present, err := m.client.SMIsMember(ctx, m.participantsKey(roomID), others...).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}
	for _, p := range present {
		if p {
			return true, nil
		}
	}
	return false, nil
}

func (m *redisManager) Participants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	ids, err := m.client.SMembers(ctx, m.participantsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	users, err := m.resolver.ResolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	participants := make([]domain.Participant, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		userID, ok := users[id]
		if !ok {
			stale = append(stale, id)
			continue
		}
		participants = append(participants, domain.Participant{
			ConnectionID: id,
			UserID:       userID,
		})
	}

	// Prune members whose session expired without a clean disconnect.
	if len(stale) > 0 {
		if err := m.client.SRem(ctx, m.participantsKey(roomID), stale...).Err(); err != nil {
			return participants, fmt.Errorf("failed to prune stale participants: %w", err)
		}
	}
	return participants, nil
}

func (m *redisManager) Metadata(ctx context.Context, roomID string) (domain.RoomMetadata, error) {
	data, err := m.client.Get(ctx, m.metaKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RoomMetadata{}, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.RoomMetadata{}, fmt.Errorf("failed to get room metadata: %w", err)
	}

	var meta domain.RoomMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.RoomMetadata{}, fmt.Errorf("failed to unmarshal room metadata: %w", err)
	}
	return meta, nil
}

func (m *redisManager) ConnectionRooms(ctx context.Context, connectionID string) ([]string, error) {
	rooms, err := m.client.SMembers(ctx, m.connRoomsKey(connectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list connection rooms: %w", err)
	}
	return rooms, nil
}

func (m *redisManager) UserRooms(ctx context.Context, userID string) ([]string, error) {
	rooms, err := m.client.SMembers(ctx, m.userRoomsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user rooms: %w", err)
	}
	return rooms, nil
}

func (m *redisManager) SetTyping(ctx context.Context, roomID, connectionID string) error {
	if err := m.client.Set(ctx, m.typingKey(roomID, connectionID), "1", m.opts.TypingTTL).Err(); err != nil {
		return fmt.Errorf("failed to set typing marker: %w", err)
	}
	return nil
}

func (m *redisManager) ClearTyping(ctx context.Context, roomID, connectionID string) (bool, error) {
	err := m.client.GetDel(ctx, m.typingKey(roomID, connectionID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to clear typing marker: %w", err)
	}
	return true, nil
}
