package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/book-harvester/config"
)

// Task types
const (
	TaskTypeEscalation = "harvest:escalation"
	TaskTypeRequest    = "harvest:request"
)

// Queue names by priority.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Task priorities, mapped onto the queues above.
const (
	PriorityLow      = 0
	PriorityCritical = 1
	PriorityDefault  = 2
)

// ErrStatusNotFound is returned when no stage has been recorded for a book.
var ErrStatusNotFound = errors.New("no harvest status recorded")

// Queue carries escalation reports and operator requests and records the
// harvest stage of each book.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	SaveStage(ctx context.Context, status *StageStatus) error
	GetStage(ctx context.Context, documentID string) (*StageStatus, error)
}

type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Payload   map[string]any    `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewTask builds a task with a fresh id.
func NewTask(taskType string, priority int, payload map[string]any) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Priority:  priority,
		Payload:   payload,
		Metadata:  map[string]string{},
		CreatedAt: time.Now().UTC(),
	}
}

// StageStatus is the last harvest stage recorded for a book.
type StageStatus struct {
	DocumentID string    `json:"documentId"`
	RunID      string    `json:"runId"`
	InstanceID string    `json:"instanceId"`
	Stage      string    `json:"stage"`
	Failed     bool      `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type AsynqQueue struct {
	client    *asynq.Client
	redis     *redis.Client
	statusTTL time.Duration
}

// QueueConfig holds the redis connection settings shared by the client and the worker.
type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxRetries    int
	StatusTTL     time.Duration
}

// ConfigFromRedis adapts the loaded redis settings.
func ConfigFromRedis(cfg *config.RedisConfig) *QueueConfig {
	return &QueueConfig{
		RedisAddr:     cfg.Addr,
		RedisPassword: cfg.Password,
		RedisDB:       cfg.DB,
		MaxRetries:    3,
		StatusTTL:     cfg.StatusTTL,
	}
}

// RedisOpt returns the asynq connection options for cfg.
func (cfg *QueueConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func NewAsynqQueue(cfg *QueueConfig) (*AsynqQueue, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AsynqQueue{
		client:    asynq.NewClient(cfg.RedisOpt()),
		redis:     redisClient,
		statusTTL: ttl,
	}, nil
}

func queueFor(priority int) string {
	switch priority {
	case PriorityCritical:
		return QueueCritical
	case PriorityDefault:
		return QueueDefault
	default:
		return QueueLow
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.TaskID(task.ID),
		asynq.Queue(queueFor(task.Priority)),
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload, opts...))
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID
	return nil
}

func statusKey(documentID string) string {
	return fmt.Sprintf("harvest_status:%s", documentID)
}

func (q *AsynqQueue) SaveStage(ctx context.Context, status *StageStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := q.redis.Set(ctx, statusKey(status.DocumentID), data, q.statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (q *AsynqQueue) GetStage(ctx context.Context, documentID string) (*StageStatus, error) {
	data, err := q.redis.Get(ctx, statusKey(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("book %s: %w", documentID, ErrStatusNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}
	var status StageStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.redis.Close())
}
