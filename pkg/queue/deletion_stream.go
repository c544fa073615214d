package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"authorsapi/internal/util"
	"authorsapi/pkg/domain"
	"github.com/redis/go-redis/v9"
)

// DeletionStream publishes committed deletion records to a Redis stream and
// lets workers consume them through a consumer group.
type DeletionStream struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type StreamConfig struct {
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewDeletionStream(client *redis.Client, cfg StreamConfig) (*DeletionStream, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("deletion stream name required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	return &DeletionStream{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Publish appends rec to the stream and returns the stream entry ID.
func (q *DeletionStream) Publish(ctx context.Context, rec domain.DeletionRecord) (string, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return "", errors.New("deletion record id required")
	}
	args, err := q.xaddArgs(rec, 0)
	if err != nil {
		return "", err
	}
	return q.client.XAdd(ctx, args).Result()
}

func (q *DeletionStream) xaddArgs(rec domain.DeletionRecord, attempt int) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode deletion record: %w", err)
	}
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"record_id": rec.ID,
			"kind":      string(rec.Kind),
			"attempt":   strconv.Itoa(attempt),
			"payload":   string(payload),
		},
	}, nil
}

// Start launches concurrency consumers that pass each record to handler until ctx ends.
// A record whose handler keeps failing is dropped after the configured retries.
func (q *DeletionStream) Start(ctx context.Context, concurrency int, handler func(context.Context, domain.DeletionRecord) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *DeletionStream) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("deletion stream group create failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *DeletionStream) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, domain.DeletionRecord) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				slog.Warn("deletion stream read failed", "stream", q.stream, "err", err)
				q.sleep(ctx)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *DeletionStream) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *DeletionStream) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, domain.DeletionRecord) error) {
	rec, attempt, err := decodeMessage(msg)
	if err != nil {
		slog.Warn("dropping malformed deletion event", "id", msg.ID, "err", err)
		q.ack(ctx, msg.ID)
		return
	}
	herr := handler(ctx, rec)
	if herr == nil {
		q.ack(ctx, msg.ID)
		return
	}
	attempt++
	if attempt >= q.maxRetries {
		slog.Error("deletion event handler gave up", "record_id", rec.ID, "attempts", attempt, "err", herr)
		q.ack(ctx, msg.ID)
		return
	}
	slog.Warn("deletion event handler failed, retrying", "record_id", rec.ID, "attempt", attempt, "err", herr)
	if !q.sleep(ctx) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, rec, attempt); err != nil {
		slog.Warn("deletion event requeue failed", "record_id", rec.ID, "err", err)
	}
}

// sleep waits retryDelay and reports whether ctx is still live.
func (q *DeletionStream) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(q.retryDelay):
		return true
	}
}

func (q *DeletionStream) ack(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *DeletionStream) requeueAndAck(ctx context.Context, msgID string, rec domain.DeletionRecord, attempt int) error {
	args, err := q.xaddArgs(rec, attempt)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, args)
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err = pipe.Exec(ctx)
	return err
}

func decodeMessage(msg redis.XMessage) (domain.DeletionRecord, int, error) {
	var rec domain.DeletionRecord
	raw, _ := msg.Values["payload"].(string)
	if raw == "" {
		return rec, 0, errors.New("payload missing")
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, 0, err
	}
	attempt := 0
	if v, _ := msg.Values["attempt"].(string); v != "" {
		attempt, _ = strconv.Atoi(v)
	}
	return rec, attempt, nil
}
