package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
)

// AuditWorker drains usage tasks from the asynq queue when Redis is enabled.
type AuditWorker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor func(context.Context, *UsageTask) error
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewAuditWorker creates a new worker instance
func NewAuditWorker(cfg *config.RedisConfig) *AuditWorker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Infof("[AuditWorker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &AuditWorker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// SetProcessor sets the function to apply usage records
func (w *AuditWorker) SetProcessor(processor func(context.Context, *UsageTask) error) {
	w.processor = processor
}

// Start begins processing tasks
func (w *AuditWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeTokenUsage, w.handleUsageTask)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[AuditWorker] Starting async worker...")
		if err := w.server.Run(w.mux); err != nil {
			logger.Infof("[AuditWorker] Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker
func (w *AuditWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[AuditWorker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[AuditWorker] Shutdown complete")
}

// handleUsageTask processes a single usage record
func (w *AuditWorker) handleUsageTask(ctx context.Context, t *asynq.Task) error {
	var task UsageTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Infof("[AuditWorker] Failed to unmarshal task: %v", err)
		return err
	}

	if w.processor == nil {
		logger.Infof("[AuditWorker] Warning: no processor set")
		return nil
	}

	return w.processor(ctx, &task)
}

// Global worker instance
var (
	globalAuditWorker *AuditWorker
	auditWorkerOnce   sync.Once
)

// InitAuditWorker initializes the global worker
func InitAuditWorker(cfg *config.RedisConfig) *AuditWorker {
	auditWorkerOnce.Do(func() {
		globalAuditWorker = NewAuditWorker(cfg)
	})
	return globalAuditWorker
}
