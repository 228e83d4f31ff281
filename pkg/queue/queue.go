// Package queue submits admitted jobs to the redis-backed work queue
// and delivers them to workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zeek/zeek-benchmarker/pkg/admission"
	"github.com/zeek/zeek-benchmarker/pkg/config"
)

// JobHandle identifies a submitted job.
type JobHandle struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// payload is the wire shape stored in the job hash and consumed by
// workers. JobFunc selects the worker-side entry point.
type payload struct {
	JobFunc string                `json:"job_func"`
	Timeout int                   `json:"timeout"`
	Request *admission.JobRequest `json:"request"`
}

// Dispatcher hands canonical job requests to the asynchronous execution
// channel. Retry and execution-failure handling live on the worker side.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobFunc string, req *admission.JobRequest) (*JobHandle, error)
}

// Compile-time interface check.
var _ Dispatcher = (*dispatcher)(nil)

type dispatcher struct {
	log logrus.FieldLogger
	cfg *config.RedisConfig
}

// NewDispatcher creates a Dispatcher for the configured broker and queue.
func NewDispatcher(log logrus.FieldLogger, cfg *config.RedisConfig) Dispatcher {
	return &dispatcher{
		log: log.WithField("component", "dispatcher"),
		cfg: cfg,
	}
}

// Enqueue assigns a job id, stores the payload, and pushes the id onto
// the named queue. It opens a fresh broker connection per call.
func (d *dispatcher) Enqueue(ctx context.Context, jobFunc string, req *admission.JobRequest) (*JobHandle, error) {
	handle := &JobHandle{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now().UTC(),
	}

	// The worker reads the id back out of the payload.
	queued := *req
	queued.JobID = handle.ID

	data, err := json.Marshal(&payload{
		JobFunc: jobFunc,
		Timeout: d.cfg.JobTimeout,
		Request: &queued,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling job payload: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: d.cfg.Addr})
	defer rdb.Close()

	if err := rdb.HSet(ctx, jobKey(handle.ID), "payload", data).Err(); err != nil {
		return nil, fmt.Errorf("storing job payload: %w", err)
	}

	if err := rdb.RPush(ctx, queueKey(d.cfg.Queue), handle.ID).Err(); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	d.log.WithField("job_id", handle.ID).
		WithField("queue", d.cfg.Queue).
		WithField("job_func", jobFunc).
		Info("Job enqueued")

	return handle, nil
}

// Job is a dequeued work item.
type Job struct {
	ID      string
	JobFunc string
	Timeout time.Duration
	Request *admission.JobRequest
}

// Consumer delivers queued jobs to the worker, FIFO per queue name.
type Consumer struct {
	log logrus.FieldLogger
	cfg *config.RedisConfig
	rdb *redis.Client
}

// NewConsumer creates a Consumer with a persistent broker connection.
func NewConsumer(log logrus.FieldLogger, cfg *config.RedisConfig) *Consumer {
	return &Consumer{
		log: log.WithField("component", "consumer"),
		cfg: cfg,
		rdb: redis.NewClient(&redis.Options{Addr: cfg.Addr}),
	}
}

// Close releases the broker connection.
func (c *Consumer) Close() error {
	return c.rdb.Close()
}

// Next blocks until a job is available or the context is canceled.
func (c *Consumer) Next(ctx context.Context) (*Job, error) {
	// BLPOP with a finite timeout so context cancellation is noticed.
	for {
		res, err := c.rdb.BLPop(ctx, 5*time.Second, queueKey(c.cfg.Queue)).Result()

		switch {
		case err == redis.Nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			continue
		case err != nil:
			return nil, fmt.Errorf("waiting for job: %w", err)
		}

		// res is [queue, jobID].
		jobID := res[1]

		data, err := c.rdb.HGet(ctx, jobKey(jobID), "payload").Result()
		if err != nil {
			c.log.WithError(err).
				WithField("job_id", jobID).
				Error("Dequeued job without payload, discarding")

			continue
		}

		var p payload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			c.log.WithError(err).
				WithField("job_id", jobID).
				Error("Undecodable job payload, discarding")

			continue
		}

		return &Job{
			ID:      jobID,
			JobFunc: p.JobFunc,
			Timeout: time.Duration(p.Timeout) * time.Second,
			Request: p.Request,
		}, nil
	}
}

func jobKey(id string) string { return "job:" + id }

func queueKey(name string) string { return "queue:" + name }
