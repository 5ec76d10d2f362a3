package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
)

const (
	TaskTypeTokenUsage = "token:usage"
)

// UsageTask carries one successful-validation audit update. It travels off
// the validation critical path: the pass/fail decision has already been made
// by the time this is enqueued.
type UsageTask struct {
	TokenID   uint      `json:"token_id"`
	UsedAt    time.Time `json:"used_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// AuditQueue defines the interface for usage-audit processing
type AuditQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *UsageTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global audit queue instance
var (
	globalAuditQueue AuditQueue
	auditQueueOnce   sync.Once
)

// InitAuditQueue initializes the global audit queue based on config
func InitAuditQueue(cfg *config.Config) AuditQueue {
	auditQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Infof("[AuditQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalAuditQueue = NewSyncQueue()
			} else {
				logger.Infof("[AuditQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalAuditQueue = queue
			}
		} else {
			logger.Infof("[AuditQueue] Sync queue initialized (Redis disabled)")
			globalAuditQueue = NewSyncQueue()
		}
	})
	return globalAuditQueue
}

// GetAuditQueue returns the global audit queue instance
func GetAuditQueue() AuditQueue {
	return globalAuditQueue
}

// AsyncQueue implements AuditQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Test connection by pinging Redis
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a usage task to the async queue
func (q *AsyncQueue) Enqueue(task *UsageTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeTokenUsage, payload)
	_, err = q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	return err
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements AuditQueue with in-process processing (no Redis)
type SyncQueue struct {
	processor func(context.Context, *UsageTask) error
}

// NewSyncQueue creates a new synchronous queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks in-process
func (q *SyncQueue) SetProcessor(processor func(context.Context, *UsageTask) error) {
	q.processor = processor
}

// Enqueue hands the task to a goroutine so the caller never waits on the
// audit write.
func (q *SyncQueue) Enqueue(task *UsageTask) error {
	if q.processor == nil {
		logger.Infof("[SyncQueue] Warning: no processor set, usage record dropped")
		return nil
	}

	go func() {
		ctx := context.Background()
		if err := q.processor(ctx, task); err != nil {
			logger.Infof("[SyncQueue] usage record failed: %v", err)
		}
	}()

	return nil
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close is a no-op for sync queue
func (q *SyncQueue) Close() error {
	return nil
}
