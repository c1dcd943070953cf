package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisTransport implements Transport on a Redis list plus pub/sub: the
// list is the durable per-stream buffer (so a late attachment can replay
// from the start), pub/sub is the live fan-out, and a per-stream counter
// hands out sequence numbers. All keys carry a TTL so abandoned streams
// clean themselves up.
type RedisTransport struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisTransport(client redis.UniversalClient, ttl time.Duration) *RedisTransport {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisTransport{client: client, ttl: ttl}
}

func bufKey(id uuid.UUID) string  { return "stream:buf:" + id.String() }
func seqKey(id uuid.UUID) string  { return "stream:seq:" + id.String() }
func openKey(id uuid.UUID) string { return "stream:open:" + id.String() }
func doneKey(id uuid.UUID) string { return "stream:done:" + id.String() }
func channel(id uuid.UUID) string { return "stream:ch:" + id.String() }

// Open sets the in-flight marker. Without it, Attach cannot tell a stream
// whose keys expired from one whose generation has not produced output yet,
// and would wait forever on the former.
func (t *RedisTransport) Open(ctx context.Context, streamID uuid.UUID) error {
	if err := t.client.Set(ctx, openKey(streamID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, streamID uuid.UUID, ev Event) error {
	seq, err := t.client.Incr(ctx, seqKey(streamID)).Result()
	if err != nil {
		return fmt.Errorf("allocating stream seq: %w", err)
	}
	ev.Seq = seq

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling stream event: %w", err)
	}

	pipe := t.client.Pipeline()
	pipe.RPush(ctx, bufKey(streamID), data)
	pipe.Expire(ctx, bufKey(streamID), t.ttl)
	pipe.Expire(ctx, seqKey(streamID), t.ttl)
	// A generation is alive as long as it keeps producing output, however
	// long ago it was opened.
	pipe.Expire(ctx, openKey(streamID), t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffering stream event: %w", err)
	}

	if err := t.client.Publish(ctx, channel(streamID), data).Err(); err != nil {
		return fmt.Errorf("publishing stream event: %w", err)
	}
	return nil
}

func (t *RedisTransport) Conclude(ctx context.Context, streamID uuid.UUID) error {
	pipe := t.client.Pipeline()
	pipe.Set(ctx, doneKey(streamID), "1", t.ttl)
	pipe.Del(ctx, bufKey(streamID), seqKey(streamID), openKey(streamID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("concluding stream: %w", err)
	}
	return nil
}

func (t *RedisTransport) Attach(ctx context.Context, streamID uuid.UUID) (<-chan Event, error) {
	done, err := t.client.Exists(ctx, doneKey(streamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("checking stream state: %w", err)
	}
	if done > 0 {
		return nil, ErrConcluded
	}

	// No open marker means the stream either was never opened or all its
	// keys have expired, done marker included. Both read as concluded.
	open, err := t.client.Exists(ctx, openKey(streamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("checking stream state: %w", err)
	}
	if open == 0 {
		return nil, ErrConcluded
	}

	// Subscribe before reading the buffer, so nothing published in between
	// is missed; duplicates are filtered by sequence number instead.
	sub := t.client.Subscribe(ctx, channel(streamID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to stream: %w", err)
	}

	buffered, err := t.client.LRange(ctx, bufKey(streamID), 0, -1).Result()
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("reading stream buffer: %w", err)
	}

	// Conclude may have landed between the state checks and the buffer
	// read, deleting the buffer before we saw its terminal event.
	done, err = t.client.Exists(ctx, doneKey(streamID)).Result()
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("checking stream state: %w", err)
	}
	if done > 0 {
		sub.Close()
		return nil, ErrConcluded
	}

	out := make(chan Event, 64)
	go t.follow(ctx, sub, buffered, out)
	return out, nil
}

func (t *RedisTransport) follow(ctx context.Context, sub *redis.PubSub, buffered []string, out chan<- Event) {
	defer close(out)
	defer sub.Close()

	var lastSeq int64

	emit := func(raw string) (terminal bool, ok bool) {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return false, true
		}
		if ev.Seq <= lastSeq {
			return false, true
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return false, false
		}
		lastSeq = ev.Seq
		return ev.Terminal(), true
	}

	for _, raw := range buffered {
		terminal, ok := emit(raw)
		if !ok || terminal {
			return
		}
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-msgs:
			if !open {
				return
			}
			terminal, ok := emit(msg.Payload)
			if !ok || terminal {
				return
			}
		}
	}
}
