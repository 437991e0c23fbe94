package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const attrPrefix = "attr:"

// Connect initializes a Redis client from a redis:// URL or a host:port address.
func Connect(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// Redis is a delayed queue. Message ids live in a sorted set scored by the
// time they become visible; bodies live in a hash that expires with the TTL.
// Received ids move to an in-flight set scored by lease expiry.
type Redis struct {
	cli   *redis.Client
	name  string
	lease time.Duration
	now   func() time.Time
}

func NewRedis(cli *redis.Client, name string, lease time.Duration) *Redis {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Redis{cli: cli, name: name, lease: lease, now: time.Now}
}

func (q *Redis) Name() string { return q.name }

func (q *Redis) readyKey() string { return "q:" + q.name + ":ready" }
func (q *Redis) inflightKey() string { return "q:" + q.name + ":inflight" }
func (q *Redis) msgPrefix() string { return "q:" + q.name + ":msg:" }
func (q *Redis) msgKey(id string) string { return q.msgPrefix() + id }

func (q *Redis) Send(ctx context.Context, payload []byte, opts SendOptions) (string, error) {
	id := uuid.NewString()
	now := q.now()
	fields := map[string]interface{}{
		"payload":      payload,
		"enqueuedAt":   now.UnixMilli(),
		"dequeueCount": 0,
	}
	for k, v := range opts.Attributes {
		fields[attrPrefix+k] = v
	}
	visibleAt := now.Add(opts.Delay).UnixMilli()
	_, err := q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.msgKey(id), fields)
		if opts.TTL > 0 {
			p.PExpire(ctx, q.msgKey(id), opts.TTL)
		}
		p.ZAdd(ctx, q.readyKey(), &redis.Z{Score: float64(visibleAt), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", q.name, err)
	}
	return id, nil
}

// receiveScript requeues ids whose lease ran out, then leases up to ARGV[3]
// visible ids. Ids whose body expired are dropped.
var receiveScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local key = ARGV[4] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('HINCRBY', key, 'dequeueCount', 1)
    redis.call('ZADD', KEYS[2], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
    table.insert(out, id)
    table.insert(out, redis.call('HGETALL', key))
  end
end
return out
`)

func (q *Redis) Receive(ctx context.Context, max int) ([]Message, error) {
	now := q.now().UnixMilli()
	res, err := receiveScript.Run(ctx, q.cli,
		[]string{q.readyKey(), q.inflightKey()},
		now, q.lease.Milliseconds(), max, q.msgPrefix(),
	).Slice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("receive from %s: %w", q.name, err)
	}
	msgs := make([]Message, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		id, _ := res[i].(string)
		flat, _ := res[i+1].([]interface{})
		m := decodeFields(id, flat)
		m.ack = q.acker(id, q.inflightKey())
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Peek lists up to n waiting messages, visible or not, without leasing them.
// Acknowledging a peeked message deletes it.
func (q *Redis) Peek(ctx context.Context, n int) ([]Message, error) {
	ids, err := q.cli.ZRange(ctx, q.readyKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", q.name, err)
	}
	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		fields, err := q.cli.HGetAll(ctx, q.msgKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("peek %s/%s: %w", q.name, id, err)
		}
		if len(fields) == 0 {
			continue // expired
		}
		m := messageFromMap(id, fields)
		m.ack = q.acker(id, q.readyKey())
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (q *Redis) acker(id, set string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRem(ctx, set, id)
			p.Del(ctx, q.msgKey(id))
			return nil
		})
		if err != nil {
			return fmt.Errorf("ack %s/%s: %w", q.name, id, err)
		}
		return nil
	}
}

func decodeFields(id string, flat []interface{}) Message {
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return messageFromMap(id, fields)
}

func messageFromMap(id string, fields map[string]string) Message {
	m := Message{ID: id, Payload: []byte(fields["payload"])}
	m.DequeueCount, _ = strconv.Atoi(fields["dequeueCount"])
	for k, v := range fields {
		if strings.HasPrefix(k, attrPrefix) {
			if m.Attributes == nil {
				m.Attributes = map[string]string{}
			}
			m.Attributes[strings.TrimPrefix(k, attrPrefix)] = v
		}
	}
	return m
}
