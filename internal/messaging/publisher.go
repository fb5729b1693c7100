package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"manga-server/internal/models"
	"manga-server/pkg/taskmanager"
)

const (
	EventTypeChapterProcessing = "chapter_processing"
	EventTypeJobStatus         = "job_status"

	publishTimeout  = 10 * time.Second
	publishAttempts = 3
	appID           = "manga-server"
)

// Publisher - то, что нужно от канала RabbitMQ. *amqp.Channel подходит.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// JobStatusEvent - снимок фоновой задачи для стрима уведомлений.
type JobStatusEvent struct {
	JobID       string `json:"job_id"`
	Type        string `json:"type"`
	ResourceKey string `json:"resource_key,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// Envelope - формат сообщения в очереди событий обработки.
type Envelope struct {
	Type      string                         `json:"type"`
	Chapter   *models.ChapterProcessingEvent `json:"chapter,omitempty"`
	Job       *JobStatusEvent                `json:"job,omitempty"`
	Timestamp time.Time                      `json:"timestamp"`
}

// EventPublisher отправляет события обработки глав и статусы задач
// в очередь, которую читает сервис уведомлений.
type EventPublisher struct {
	channel   Publisher
	queueName string
	logger    *zap.Logger
	now       func() time.Time
}

// NewEventPublisher открывает канал и объявляет durable-очередь.
func NewEventPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("event publisher: не удалось открыть канал: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("event publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	logger.Info("Processing events queue declared", zap.String("queue", queueName))
	return NewEventPublisherWithChannel(ch, queueName, logger), nil
}

func NewEventPublisherWithChannel(ch Publisher, queueName string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("EventPublisher"),
		now:       time.Now,
	}
}

// Close закрывает канал, если он поддерживает закрытие.
func (p *EventPublisher) Close() error {
	if closer, ok := p.channel.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (p *EventPublisher) PublishChapterEvent(ctx context.Context, event models.ChapterProcessingEvent) error {
	return p.publish(ctx, Envelope{Type: EventTypeChapterProcessing, Chapter: &event})
}

// NotifyTaskStatus реализует taskmanager.StatusNotifier. Ошибки только
// логируются: уведомление не должно влиять на задачу.
func (p *EventPublisher) NotifyTaskStatus(ctx context.Context, task taskmanager.Task) {
	err := p.publish(ctx, Envelope{
		Type: EventTypeJobStatus,
		Job: &JobStatusEvent{
			JobID:       task.ID.String(),
			Type:        task.Type,
			ResourceKey: task.ResourceKey,
			Status:      string(task.Status),
			Error:       task.Error,
		},
	})
	if err != nil {
		p.logger.Warn("Failed to publish job status",
			zap.String("jobID", task.ID.String()), zap.String("status", string(task.Status)), zap.Error(err))
	}
}

func (p *EventPublisher) publish(ctx context.Context, env Envelope) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	env.Timestamp = p.now().UTC()
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", env.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    env.Timestamp,
			Type:         env.Type,
			AppId:        appID,
		})
		if err == nil {
			return nil
		}
		p.logger.Debug("Publish attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("failed to publish %s event: %w", env.Type, err)
}

// Connect подключается к RabbitMQ с несколькими попытками.
func Connect(url string, attempts int, delay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, err
}
