package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// nack moves an in-flight entry back to the ready list, or to the dead-letter
// list once it has been received maxAttempts times, in one step.
var redisNackScript = redis.NewScript(`
local processing = KEYS[1]
local ready = KEYS[2]
local dead = KEYS[3]
local inflight = KEYS[4]
local raw = ARGV[1]
local next_raw = ARGV[2]
local attempt = tonumber(ARGV[3])
local max_attempts = tonumber(ARGV[4])

if redis.call("LREM", processing, 1, raw) == 0 then
  return -1
end
redis.call("ZREM", inflight, raw)
if attempt >= max_attempts then
  redis.call("LPUSH", dead, raw)
  return 0
end
redis.call("LPUSH", ready, next_raw)
return 1
`)

// reclaim returns entries whose deadline passed to the ready list, counting
// the lost delivery as an attempt. Entries without a deadline (the consumer
// died before recording one) get one now and are reclaimed on a later sweep.
var redisReclaimScript = redis.NewScript(`
local processing = KEYS[1]
local ready = KEYS[2]
local dead = KEYS[3]
local inflight = KEYS[4]
local now = tonumber(ARGV[1])
local deadline = ARGV[2]
local max_attempts = tonumber(ARGV[3])

local reclaimed = 0
for _, raw in ipairs(redis.call("LRANGE", processing, 0, -1)) do
  local due = redis.call("ZSCORE", inflight, raw)
  if not due then
    redis.call("ZADD", inflight, deadline, raw)
  elseif tonumber(due) <= now then
    redis.call("LREM", processing, 1, raw)
    redis.call("ZREM", inflight, raw)
    local attempt = tonumber(string.match(raw, '^{"attempt":(%d+),'))
    if attempt == nil or attempt + 1 >= max_attempts then
      redis.call("LPUSH", dead, raw)
    else
      local next_raw = string.gsub(raw, '^{"attempt":%d+', '{"attempt":' .. (attempt + 1), 1)
      redis.call("LPUSH", ready, next_raw)
    end
    reclaimed = reclaimed + 1
  end
end
return reclaimed
`)

const defaultVisibility = 60 * time.Second

type redisEnvelope struct {
	Attempt int             `json:"attempt"`
	Body    json.RawMessage `json:"body"`
}

// RedisQueue is a reliable list queue: producers LPUSH onto the ready list and
// consumers atomically move entries to a processing list while they work.
//
// Every received entry gets a deadline in a sorted set. Reclaim sweeps entries
// still in flight past their deadline back to the ready list, so a consumer
// that dies between receive and ack does not strand its job.
type RedisQueue struct {
	client      redis.UniversalClient
	key         string
	maxAttempts int
	wait        time.Duration
	visibility  time.Duration
	now         func() time.Time
}

func NewRedisQueue(client redis.UniversalClient, key string, maxAttempts int, wait time.Duration) *RedisQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RedisQueue{
		client:      client,
		key:         key,
		maxAttempts: maxAttempts,
		wait:        wait,
		visibility:  defaultVisibility,
		now:         time.Now,
	}
}

// SetVisibility sets how long a received job may stay unacked before Reclaim
// hands it to another consumer.
func (q *RedisQueue) SetVisibility(d time.Duration) {
	if d > 0 {
		q.visibility = d
	}
}

func (q *RedisQueue) processingKey() string { return q.key + ":processing" }

func (q *RedisQueue) inflightKey() string { return q.key + ":inflight" }

func (q *RedisQueue) deadline() int64 {
	return q.now().Add(q.visibility).UnixMilli()
}

// DeadLetterKey is the list exhausted jobs land on.
func (q *RedisQueue) DeadLetterKey() string { return q.key + ":dead" }

func encodeEnvelope(attempt int, body []byte) (string, error) {
	raw, err := json.Marshal(redisEnvelope{Attempt: attempt, Body: body})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (q *RedisQueue) Publish(ctx context.Context, msg RefundMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	raw, err := encodeEnvelope(0, body)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Receive blocks up to the configured wait for one job. A zero wait polls.
func (q *RedisQueue) Receive(ctx context.Context) ([]Delivery, error) {
	var cmd *redis.StringCmd
	if q.wait > 0 {
		cmd = q.client.BLMove(ctx, q.key, q.processingKey(), "RIGHT", "LEFT", q.wait)
	} else {
		cmd = q.client.LMove(ctx, q.key, q.processingKey(), "RIGHT", "LEFT")
	}
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis receive: %w", err)
	}
	if err := q.client.ZAdd(ctx, q.inflightKey(), redis.Z{Score: float64(q.deadline()), Member: raw}).Err(); err != nil {
		// the next Reclaim sweep records the deadline instead
		log.Warn().Err(err).Msg("Failed to record queue entry deadline")
	}

	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Error().Err(err).Msg("Dead-lettering undecodable queue entry")
		q.deadLetter(ctx, raw)
		return nil, nil
	}
	msg, err := Decode(env.Body)
	if err != nil {
		log.Error().Err(err).Msg("Dead-lettering invalid refund message")
		q.deadLetter(ctx, raw)
		return nil, nil
	}
	return []Delivery{{Message: msg, Attempt: env.Attempt + 1, receipt: raw}}, nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, raw string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, raw)
	pipe.ZRem(ctx, q.inflightKey(), raw)
	pipe.LPush(ctx, q.DeadLetterKey(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to dead-letter queue entry")
	}
}

func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.receipt)
	pipe.ZRem(ctx, q.inflightKey(), d.receipt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ack: %w", err)
	}
	return nil
}

// Reclaim moves jobs whose consumer never acked them within the visibility
// timeout back to the ready list, or to the dead-letter list once they used up
// their attempts, and reports how many moved.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	n, err := redisReclaimScript.Run(ctx, q.client,
		[]string{q.processingKey(), q.key, q.DeadLetterKey(), q.inflightKey()},
		q.now().UnixMilli(), q.deadline(), q.maxAttempts,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis reclaim: %w", err)
	}
	if n > 0 {
		log.Warn().Int("reclaimed", n).Dur("visibility", q.visibility).Msg("Reclaimed unacked refund jobs")
	}
	return n, nil
}

func (q *RedisQueue) Nack(ctx context.Context, d Delivery) error {
	body, err := d.Message.Encode()
	if err != nil {
		return err
	}
	next, err := encodeEnvelope(d.Attempt, body)
	if err != nil {
		return err
	}
	res, err := redisNackScript.Run(ctx, q.client,
		[]string{q.processingKey(), q.key, q.DeadLetterKey(), q.inflightKey()},
		d.receipt, next, d.Attempt, q.maxAttempts,
	).Int()
	if err != nil {
		return fmt.Errorf("redis nack: %w", err)
	}
	switch res {
	case -1:
		log.Warn().Str("refund_id", d.Message.RefundTransactionID).Msg("Nack for entry no longer in flight")
	case 0:
		log.Error().
			Str("refund_id", d.Message.RefundTransactionID).
			Int("attempt", d.Attempt).
			Msg("Refund job dead-lettered")
	}
	return nil
}

// Requeue moves every dead-lettered job back to the ready list with a fresh
// attempt count and reports how many moved. Entries it cannot decode stay on
// the dead-letter list for inspection.
func (q *RedisQueue) Requeue(ctx context.Context) (int, error) {
	pending, err := q.client.LLen(ctx, q.DeadLetterKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis requeue: %w", err)
	}

	moved := 0
	for i := int64(0); i < pending; i++ {
		raw, err := q.client.RPop(ctx, q.DeadLetterKey()).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("redis requeue: %w", err)
		}

		target := q.key
		entry := raw
		var env redisEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			log.Error().Err(err).Str("entry", raw).Msg("Keeping undecodable dead-letter entry")
			target = q.DeadLetterKey()
		} else if entry, err = encodeEnvelope(0, env.Body); err != nil {
			return moved, err
		}

		if err := q.client.LPush(ctx, target, entry).Err(); err != nil {
			return moved, fmt.Errorf("redis requeue: %w", err)
		}
		if target == q.key {
			moved++
		}
	}
	return moved, nil
}
