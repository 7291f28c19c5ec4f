package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const jobKeyPrefix = "finsight:job:"

// RedisQueueOptions tunes the stream layout.
type RedisQueueOptions struct {
	Stream    string
	Group     string
	Consumer  string
	ResultTTL time.Duration
	// ClaimIdle is how long another consumer's entry must sit unacked
	// before Consume takes it over.
	ClaimIdle time.Duration
}

func (o *RedisQueueOptions) defaults() {
	if o.Stream == "" {
		o.Stream = "finsight:jobs"
	}
	if o.Group == "" {
		o.Group = "finsight-workers"
	}
	if o.Consumer == "" {
		host, _ := os.Hostname()
		o.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = 24 * time.Hour
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = 30 * time.Minute
	}
}

// RedisQueue dispatches jobs over a Redis stream. Job state lives in a
// JSON string key per job; the stream only carries job ids.
type RedisQueue struct {
	rdb    *redis.Client
	opts   RedisQueueOptions
	logger *zap.Logger
}

// NewRedisQueue connects to redisURL and verifies the connection.
func NewRedisQueue(redisURL string, opts RedisQueueOptions, logger *zap.Logger) (*RedisQueue, error) {
	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	opts.defaults()
	return &RedisQueue{rdb: rdb, opts: opts, logger: logger}, nil
}

func jobKey(id string) string { return jobKeyPrefix + id }

// Submit stores the job and publishes its id.
func (q *RedisQueue) Submit(ctx context.Context, in RunInputs) (string, error) {
	job := newJob(in)
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, q.opts.ResultTTL)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.opts.Stream,
			MaxLen: 10000,
			Approx: true,
			Values: map[string]interface{}{"job_id": job.ID},
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("submit job to %s: %w", q.opts.Stream, err)
	}

	q.logger.Debug("job submitted", zap.String("job", job.ID), zap.String("stream", q.opts.Stream))
	return job.ID, nil
}

// Result loads the job state.
func (q *RedisQueue) Result(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Consume delivers jobs through the consumer group. Entries left unacked
// by an earlier run are delivered first: this consumer's own pending
// entries, then entries idle on other consumers for longer than ClaimIdle.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan *Job, error) {
	err := q.rdb.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	ch := make(chan *Job, 16)
	go func() {
		defer close(ch)
		if !q.deliver(ctx, ch, q.reclaim(ctx)) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    q.opts.Group,
				Consumer: q.opts.Consumer,
				Streams:  []string{q.opts.Stream, ">"},
				Count:    10,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.logger.Warn("read job stream", zap.Error(err))
					time.Sleep(time.Second)
				}
				continue
			}

			for _, s := range streams {
				if !q.deliver(ctx, ch, s.Messages) {
					return
				}
			}
		}
	}()
	return ch, nil
}

// reclaim collects stream entries delivered before but never acked.
func (q *RedisQueue) reclaim(ctx context.Context) []redis.XMessage {
	var msgs []redis.XMessage

	own, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, "0"},
		Count:    100,
		Block:    -1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		q.logger.Warn("read pending jobs", zap.Error(err))
	}
	seen := make(map[string]bool)
	for _, s := range own {
		for _, m := range s.Messages {
			seen[m.ID] = true
			msgs = append(msgs, m)
		}
	}

	start := "0-0"
	for {
		claimed, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.opts.Stream,
			Group:    q.opts.Group,
			Consumer: q.opts.Consumer,
			MinIdle:  q.opts.ClaimIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				q.logger.Warn("claim stale jobs", zap.Error(err))
			}
			break
		}
		for _, m := range claimed {
			if !seen[m.ID] {
				seen[m.ID] = true
				msgs = append(msgs, m)
			}
		}
		if next == "0-0" || next == "" {
			break
		}
		start = next
	}

	if len(msgs) > 0 {
		q.logger.Info("redelivering unacked jobs", zap.Int("count", len(msgs)))
	}
	return msgs
}

// deliver loads the job behind each entry and sends it on ch. It returns
// false once ctx is done.
func (q *RedisQueue) deliver(ctx context.Context, ch chan<- *Job, msgs []redis.XMessage) bool {
	for _, msg := range msgs {
		id, _ := msg.Values["job_id"].(string)
		job, err := q.Result(ctx, id)
		if err != nil {
			q.logger.Warn("drop stream entry", zap.String("entry", msg.ID), zap.Error(err))
			q.rdb.XAck(ctx, q.opts.Stream, q.opts.Group, msg.ID)
			continue
		}
		if job.Finished() {
			q.rdb.XAck(ctx, q.opts.Stream, q.opts.Group, msg.ID)
			continue
		}
		job.receipt = msg.ID
		select {
		case ch <- job:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Update writes the job state back, refreshing its TTL.
func (q *RedisQueue) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, jobKey(job.ID), data, q.opts.ResultTTL).Err(); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

// Ack acknowledges the stream entry the job was delivered with.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if job.receipt == "" {
		return nil
	}
	return q.rdb.XAck(ctx, q.opts.Stream, q.opts.Group, job.receipt).Err()
}

// Release leaves the entry pending. The next Consume by this consumer, or
// by another one after ClaimIdle, delivers it again.
func (q *RedisQueue) Release(_ context.Context, job *Job) error {
	if job.receipt == "" {
		return fmt.Errorf("release job %s: no stream entry", job.ID)
	}
	q.logger.Debug("job left pending", zap.String("job", job.ID), zap.String("entry", job.receipt))
	return nil
}

// Close shuts down the Redis connection.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
