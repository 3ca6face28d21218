package registry

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
// {prefix}:conn:{connection_id}               STRING<json Connection>  - live connection record
// {prefix}:presence:{user_id}                 STRING<json Presence>    - user presence
// {prefix}:presence:{user_id}:connections     SET<connection_id>       - user's live connections
//
// Connection and presence keys carry the session TTL while the user is
// online; the presence record is rewritten with the shorter offline TTL
// once the connection set drains.

type redisRegistry struct {
	client     *redis.Client
	prefix     string
	sessionTTL time.Duration
	offlineTTL time.Duration
}

// NewRedisRegistry creates a Redis-backed session registry.
func NewRedisRegistry(client *redis.Client, prefix string, sessionTTL, offlineTTL time.Duration) SessionRegistry {
	return &redisRegistry{
		client:     client,
		prefix:     prefix,
		sessionTTL: sessionTTL,
		offlineTTL: offlineTTL,
	}
}

func (r *redisRegistry) connKey(connectionID string) string {
	return fmt.Sprintf("%s:conn:%s", r.prefix, connectionID)
}

func (r *redisRegistry) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", r.prefix, userID)
}

func (r *redisRegistry) userConnectionsKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s:connections", r.prefix, userID)
}

func (r *redisRegistry) Register(ctx context.Context, conn domain.Connection) error {
	if conn.ID == "" || conn.UserID == "" {
		return fmt.Errorf("register: %w: connection id and user id are required", domain.ErrValidation)
	}

	connData, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	presence := domain.PresenceRecord{
		UserID:     conn.UserID,
		Status:     domain.PresenceOnline,
		LastActive: time.Now().UTC(),
	}
	presenceData, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.connKey(conn.ID), connData, r.sessionTTL)
	pipe.SAdd(ctx, r.userConnectionsKey(conn.UserID), conn.ID)
	pipe.Expire(ctx, r.userConnectionsKey(conn.UserID), r.sessionTTL)
	pipe.Set(ctx, r.presenceKey(conn.UserID), presenceData, r.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}
	return nil
}

func (r *redisRegistry) Get(ctx context.Context, connectionID string) (domain.Connection, error) {
	data, err := r.client.Get(ctx, r.connKey(connectionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Connection{}, fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Connection{}, fmt.Errorf("failed to get connection: %w", err)
	}

	var conn domain.Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return domain.Connection{}, fmt.Errorf("failed to unmarshal connection: %w", err)
	}
	return conn, nil
}

func (r *redisRegistry) Unregister(ctx context.Context, connectionID string) error {
	conn, err := r.Get(ctx, connectionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.connKey(connectionID))
	pipe.SRem(ctx, r.userConnectionsKey(conn.UserID), connectionID)
	remaining := pipe.SCard(ctx, r.userConnectionsKey(conn.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister connection: %w", err)
	}

	if remaining.Val() > 0 {
		return nil
	}

	presence := domain.PresenceRecord{
		UserID:     conn.UserID,
		Status:     domain.PresenceOffline,
		LastActive: time.Now().UTC(),
	}
	presenceData, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}
	if err := r.client.Set(ctx, r.presenceKey(conn.UserID), presenceData, r.offlineTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}
	return nil
}

func (r *redisRegistry) Touch(ctx context.Context, connectionID, userID string) error {
	presence := domain.PresenceRecord{
		UserID:     userID,
		Status:     domain.PresenceOnline,
		LastActive: time.Now().UTC(),
	}
	presenceData, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Expire(ctx, r.connKey(connectionID), r.sessionTTL)
	pipe.Expire(ctx, r.userConnectionsKey(userID), r.sessionTTL)
	pipe.Set(ctx, r.presenceKey(userID), presenceData, r.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	return nil
}

func (r *redisRegistry) GetPresence(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	data, err := r.client.Get(ctx, r.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PresenceRecord{UserID: userID, Status: domain.PresenceOffline}, nil
	}
	if err != nil {
		return domain.PresenceRecord{}, fmt.Errorf("failed to get presence: %w", err)
	}

	var record domain.PresenceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.PresenceRecord{}, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return record, nil
}

func (r *redisRegistry) UserConnections(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.userConnectionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user connections: %w", err)
	}
	return ids, nil
}

func (r *redisRegistry) ResolveUsers(ctx context.Context, connectionIDs []string) (map[string]string, error) {
	users := make(map[string]string, len(connectionIDs))
	if len(connectionIDs) == 0 {
		return users, nil
	}

	keys := make([]string, len(connectionIDs))
	for i, id := range connectionIDs {
		keys[i] = r.connKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve connections: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var conn domain.Connection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			continue
		}
		users[connectionIDs[i]] = conn.UserID
	}
	return users, nil
}
