package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/melo-live/internal/domain"
	pkglog "github.com/weiawesome/melo-live/pkg/log"
)

// ErrCacheMiss is returned internally when a history page is not cached.
var ErrCacheMiss = errors.New("cache miss")

// Redis key patterns:
// {prefix}:msg:{message_id}            STRING<json Message>   - message body
// {prefix}:room:{room_id}:messages     ZSET<message_id>       - scored by unix-ms timestamp
// {prefix}:room:{room_id}:pending      SET<message_id>        - not fully acknowledged
// {prefix}:msg:{message_id}:expected   SET<user_id>           - recipients recorded at enqueue
// {prefix}:msg:{message_id}:delivered  SET<user_id>           - recipients that acknowledged
// {prefix}:user:{user_id}:unread       SET<message_id>        - per-user unacknowledged backlog
// {prefix}:history:{room}:{cursor}:{n} STRING<json page>      - short-lived page cache
//
// Everything carries the retention TTL; index keys are refreshed on write so
// an active room never loses its index while bodies are alive. Bodies expire
// individually, so index reads prune ids whose body is gone.

// Options configures the Redis message tracker.
type Options struct {
	Prefix       string
	RetentionTTL time.Duration
	PageSize     int
	CacheTTL     time.Duration
}

type redisTracker struct {
	client *redis.Client
	opts   Options
	sf     singleflight.Group
}

// NewRedisTracker creates a Redis-backed message tracker.
func NewRedisTracker(client *redis.Client, opts Options) Tracker {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &redisTracker{
		client: client,
		opts:   opts,
	}
}

func (t *redisTracker) msgKey(messageID string) string {
	return fmt.Sprintf("%s:msg:%s", t.opts.Prefix, messageID)
}

func (t *redisTracker) roomMessagesKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s:messages", t.opts.Prefix, roomID)
}

func (t *redisTracker) pendingKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s:pending", t.opts.Prefix, roomID)
}

func (t *redisTracker) expectedKey(messageID string) string {
	return fmt.Sprintf("%s:msg:%s:expected", t.opts.Prefix, messageID)
}

func (t *redisTracker) deliveredKey(messageID string) string {
	return fmt.Sprintf("%s:msg:%s:delivered", t.opts.Prefix, messageID)
}

func (t *redisTracker) unreadKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:unread", t.opts.Prefix, userID)
}

func (t *redisTracker) historyKey(roomID, cursor string, limit int) string {
	return fmt.Sprintf("%s:history:%s:%s:%d", t.opts.Prefix, roomID, cursor, limit)
}

func (t *redisTracker) Enqueue(ctx context.Context, msg domain.Message, expected []string) error {
	if msg.MessageID == "" || msg.RoomID == "" || msg.SenderID == "" {
		return fmt.Errorf("enqueue: %w: message id, room id and sender id are required", domain.ErrValidation)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("enqueue: %w: content is empty", domain.ErrValidation)
	}
	if utf8.RuneCountInString(msg.Content) > domain.MaxContentLength {
		return fmt.Errorf("enqueue: %w: content exceeds %d characters", domain.ErrValidation, domain.MaxContentLength)
	}

	msg.Pending = len(expected) > 0
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := t.client.TxPipeline()
	pipe.Set(ctx, t.msgKey(msg.MessageID), data, t.opts.RetentionTTL)
	pipe.ZAdd(ctx, t.roomMessagesKey(msg.RoomID), redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: msg.MessageID,
	})
	pipe.Expire(ctx, t.roomMessagesKey(msg.RoomID), t.opts.RetentionTTL)

	if msg.Pending {
		pipe.SAdd(ctx, t.pendingKey(msg.RoomID), msg.MessageID)
		pipe.Expire(ctx, t.pendingKey(msg.RoomID), t.opts.RetentionTTL)

		members := make([]interface{}, len(expected))
		for i, uid := range expected {
			members[i] = uid
			pipe.SAdd(ctx, t.unreadKey(uid), msg.MessageID)
			pipe.Expire(ctx, t.unreadKey(uid), t.opts.RetentionTTL)
		}
		pipe.SAdd(ctx, t.expectedKey(msg.MessageID), members...)
		pipe.Expire(ctx, t.expectedKey(msg.MessageID), t.opts.RetentionTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (t *redisTracker) ConfirmDelivery(ctx context.Context, messageID, userID string) (bool, error) {
	data, err := t.client.Get(ctx, t.msgKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get message: %w", err)
	}

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return false, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, t.deliveredKey(messageID), userID)
	pipe.Expire(ctx, t.deliveredKey(messageID), t.opts.RetentionTTL)
	pipe.SRem(ctx, t.unreadKey(userID), messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}

	if !msg.Pending {
		return true, nil
	}

	missing, err := t.client.SDiff(ctx, t.expectedKey(messageID), t.deliveredKey(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery completion: %w", err)
	}
	if len(missing) > 0 {
		return true, nil
	}

	msg.Pending = false
	data, err = json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal message: %w", err)
	}
	pipe = t.client.TxPipeline()
	pipe.Set(ctx, t.msgKey(messageID), data, redis.KeepTTL)
	pipe.SRem(ctx, t.pendingKey(msg.RoomID), messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to settle message: %w", err)
	}
	return true, nil
}

func (t *redisTracker) MarkRead(ctx context.Context, messageID, userID string) (bool, error) {
	removed, err := t.client.SRem(ctx, t.unreadKey(userID), messageID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}
	return removed > 0, nil
}

func (t *redisTracker) RoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]domain.Message, error) {
	if limit <= 0 || limit > t.opts.PageSize {
		limit = t.opts.PageSize
	}

	// The live head changes with every message; only cursor pages, which
	// are immutable until they expire, go through the cache.
	if beforeID == "" {
		ids, err := t.client.ZRevRange(ctx, t.roomMessagesKey(roomID), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read room index: %w", err)
		}
		return t.loadMessages(ctx, roomID, ids)
	}

	cacheKey := t.historyKey(roomID, beforeID, limit)
	v, err, _ := t.sf.Do(cacheKey, func() (interface{}, error) {
		if page, err := t.cacheGet(ctx, cacheKey); err == nil {
			return page, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("history cache read failed")
		}

		page, err := t.fetchBefore(ctx, roomID, limit, beforeID)
		if err != nil {
			return nil, err
		}
		t.cacheSetAsync(cacheKey, page)
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Message), nil
}

func (t *redisTracker) fetchBefore(ctx context.Context, roomID string, limit int, beforeID string) ([]domain.Message, error) {
	score, err := t.client.ZScore(ctx, t.roomMessagesKey(roomID), beforeID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: unknown cursor %s", domain.ErrValidation, beforeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cursor: %w", err)
	}

	ids, err := t.client.ZRevRangeByScore(ctx, t.roomMessagesKey(roomID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatFloat(score, 'f', -1, 64),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room index: %w", err)
	}
	return t.loadMessages(ctx, roomID, ids)
}

func (t *redisTracker) Pending(ctx context.Context, roomID string) ([]domain.Message, error) {
	ids, err := t.client.SMembers(ctx, t.pendingKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending set: %w", err)
	}

	msgs, err := t.loadMessages(ctx, roomID, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].MessageID > msgs[j].MessageID
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (t *redisTracker) UnreadCount(ctx context.Context, userID string) (int64, error) {
	count, err := t.client.SCard(ctx, t.unreadKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

// loadMessages fetches message bodies for ids, preserving order. Ids whose
// body has expired are pruned from the room index and pending set.
func (t *redisTracker) loadMessages(ctx context.Context, roomID string, ids []string) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = t.msgKey(id)
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(ids))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		msgs = append(msgs, msg)
	}

	if len(stale) > 0 {
		pipe := t.client.TxPipeline()
		pipe.ZRem(ctx, t.roomMessagesKey(roomID), stale...)
		pipe.SRem(ctx, t.pendingKey(roomID), stale...)
		if _, err := pipe.Exec(ctx); err != nil {
			pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("failed to prune expired message ids")
		}
	}
	return msgs, nil
}

func (t *redisTracker) cacheGet(ctx context.Context, key string) ([]domain.Message, error) {
	data, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var page []domain.Message
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}
	return page, nil
}

// cacheSetAsync writes a history page to the cache off the request path.
func (t *redisTracker) cacheSetAsync(key string, page []domain.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(page)
		if err != nil {
			return
		}
		if err := t.client.Set(ctx, key, data, t.opts.CacheTTL).Err(); err != nil {
			pkglog.L().Warn().Err(err).Msg("history cache write failed")
		}
	}()
}
