// Package redisqueue carries job ids and cancel broadcasts over Redis. Jobs
// sit in a list consumed with BRPOP so each id reaches one worker; cancels
// go out on a pub/sub channel every worker listens to.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
)

const defaultBlockTimeout = 5 * time.Second

type Options struct {
	// KeyPrefix namespaces the list and the channel.
	KeyPrefix string
	// BlockTimeout bounds one BRPOP call; Dequeue loops until ctx ends.
	BlockTimeout time.Duration
	Now          func() time.Time
}

type Queue struct {
	logger       *slog.Logger
	client       *redis.Client
	jobsKey      string
	cancelsKey   string
	blockTimeout time.Duration
	now          func() time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

var (
	_ comm.JobQueue  = (*Queue)(nil)
	_ comm.CancelBus = (*Queue)(nil)
)

func New(logger *slog.Logger, client *redis.Client, opts Options) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redisqueue: client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = "pipelines"
	}
	block := opts.BlockTimeout
	if block <= 0 {
		block = defaultBlockTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		logger:       logger,
		client:       client,
		jobsKey:      prefix + ":jobs",
		cancelsKey:   prefix + ":cancels",
		blockTimeout: block,
		now:          now,
		closed:       make(chan struct{}),
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, jobExecutionID string) error {
	if q.isClosed() {
		return comm.ErrQueueClosed
	}
	payload, err := encode(jobExecutionID, q.now().UnixNano())
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.jobsKey, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.jobsKey, err)
	}
	return nil
}

// Dequeue blocks until a job id arrives, ctx ends or the queue is closed.
// Malformed entries are logged and dropped.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		if q.isClosed() {
			return "", comm.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := q.client.BRPop(ctx, q.blockTimeout, q.jobsKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("brpop %s: %w", q.jobsKey, err)
		}
		if len(res) != 2 {
			continue
		}
		env, err := decode([]byte(res[1]))
		if err != nil {
			q.logger.Warn("dropping malformed queue entry", "key", q.jobsKey, "error", err)
			continue
		}
		return env.JobExecutionID, nil
	}
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.jobsKey).Result()
}

func (q *Queue) PublishCancel(ctx context.Context, jobExecutionID string) error {
	payload, err := encode(jobExecutionID, q.now().UnixNano())
	if err != nil {
		return err
	}
	if err := q.client.Publish(ctx, q.cancelsKey, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", q.cancelsKey, err)
	}
	return nil
}

// SubscribeCancels returns once the subscription is confirmed. The channel
// closes when ctx ends or the queue is closed.
func (q *Queue) SubscribeCancels(ctx context.Context) (<-chan string, error) {
	pubsub := q.client.Subscribe(ctx, q.cancelsKey)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", q.cancelsKey, err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.closed:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				env, err := decode([]byte(msg.Payload))
				if err != nil {
					q.logger.Warn("dropping malformed cancel message", "channel", q.cancelsKey, "error", err)
					continue
				}
				select {
				case out <- env.JobExecutionID:
				case <-ctx.Done():
					return
				case <-q.closed:
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops local consumers. Entries already in Redis stay there for the
// next worker.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
