package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrTooManyTasks  = errors.New("превышено максимальное количество задач в очереди")
	ErrResourceBusy  = errors.New("ресурс уже занят другой задачей")
	ErrTaskNotFound  = errors.New("задача не найдена")
	ErrManagerClosed = errors.New("менеджер задач остановлен")
)

// ITaskManager определяет интерфейс для управления фоновыми задачами
type ITaskManager interface {
	Submit(ctx context.Context, taskType string, fn TaskFunc) (uuid.UUID, error)
	SubmitExclusive(ctx context.Context, taskType, resourceKey string, fn TaskFunc) (uuid.UUID, error)
	Reserve(resourceKey string) (*Reservation, error)
	GetTask(taskID uuid.UUID) (Task, error)
	ListTasks() []Task
	IsBusy(resourceKey string) bool
	CleanupTasks(age time.Duration)
	SetStatusNotifier(notifier StatusNotifier)
	Shutdown(ctx context.Context) error
}

// StatusNotifier получает снимок задачи при каждой смене статуса.
type StatusNotifier interface {
	NotifyTaskStatus(ctx context.Context, task Task)
}

// TaskStatus представляет статус задачи
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal - задача завершена и больше не изменится.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// Task - запись реестра. Наружу отдаются только копии.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	ResourceKey string     `json:"resourceKey,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskFunc - работа, выполняемая задачей. Ошибка попадает в запись задачи.
type TaskFunc func(ctx context.Context) error

// Config содержит конфигурацию для TaskManager
type Config struct {
	Workers         int
	QueueSize       int
	RetainFor       time.Duration
	MaxRetained     int
	CleanupInterval time.Duration
	Logger          *zerolog.Logger
	// Registerer для метрик. Если nil, метрики пишутся в приватный реестр.
	Registerer prometheus.Registerer
}

type queuedTask struct {
	ctx  context.Context
	task *Task
	fn   TaskFunc

	// закрывается после уведомления о pending; воркер ждет его,
	// чтобы running не обогнал pending.
	announced chan struct{}
}

// TaskManager выполняет задачи фиксированным пулом воркеров и хранит
// их статусы в памяти.
type TaskManager struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*Task
	busy     map[string]uuid.UUID // resourceKey -> taskID, uuid.Nil пока ключ только зарезервирован
	queue    chan *queuedTask
	// места в очереди, удержанные резервами. len(queue)+reserved <= cap(queue).
	reserved int
	closing  chan struct{}
	closed   bool
	wg       sync.WaitGroup
	janitor  sync.WaitGroup
	notifier StatusNotifier
	logger   zerolog.Logger
	metrics  *metrics
	cfg      Config
	now      func() time.Time
}

var _ ITaskManager = (*TaskManager)(nil)

// New создает TaskManager и запускает воркеров.
func New(cfg Config) *TaskManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	tm := &TaskManager{
		tasks:   make(map[uuid.UUID]*Task),
		busy:    make(map[string]uuid.UUID),
		queue:   make(chan *queuedTask, cfg.QueueSize),
		closing: make(chan struct{}),
		logger:  logger.With().Str("component", "taskmanager").Logger(),
		metrics: newMetrics(cfg.Registerer),
		cfg:     cfg,
		now:     time.Now,
	}

	for i := 0; i < cfg.Workers; i++ {
		tm.wg.Add(1)
		go tm.worker()
	}
	if cfg.RetainFor > 0 {
		tm.janitor.Add(1)
		go tm.cleanupLoop()
	}
	return tm
}

// SetStatusNotifier устанавливает получателя уведомлений о статусах
func (tm *TaskManager) SetStatusNotifier(notifier StatusNotifier) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.notifier = notifier
}

// Submit ставит задачу в очередь и сразу возвращает её ID.
func (tm *TaskManager) Submit(ctx context.Context, taskType string, fn TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	snapshot, announced, err := tm.enqueueLocked(ctx, taskType, "", false, fn)
	notifier := tm.notifier
	tm.mu.Unlock()
	if err != nil {
		return uuid.Nil, err
	}
	tm.notify(ctx, notifier, snapshot)
	close(announced)
	return snapshot.ID, nil
}

// SubmitExclusive ставит задачу в очередь, если по ресурсу нет другой
// незавершенной задачи. Занятый ресурс - отказ, а не ожидание.
func (tm *TaskManager) SubmitExclusive(ctx context.Context, taskType, resourceKey string, fn TaskFunc) (uuid.UUID, error) {
	res, err := tm.Reserve(resourceKey)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := res.Submit(ctx, taskType, fn)
	if err != nil {
		res.Release()
		return uuid.Nil, err
	}
	return id, nil
}

// Reserve занимает ресурс и место в очереди до постановки задачи. Нужен,
// когда между проверкой и постановкой есть своя запись состояния: после
// успешного Reserve Submit не откажет из-за переполнения очереди.
func (tm *TaskManager) Reserve(resourceKey string) (*Reservation, error) {
	if resourceKey == "" {
		return nil, errors.New("resource key is empty")
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return nil, ErrManagerClosed
	}
	if _, ok := tm.busy[resourceKey]; ok {
		tm.metrics.rejected.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: %s", ErrResourceBusy, resourceKey)
	}
	if len(tm.queue)+tm.reserved >= cap(tm.queue) {
		tm.metrics.rejected.WithLabelValues("queue_full").Inc()
		return nil, ErrTooManyTasks
	}
	tm.reserved++
	tm.busy[resourceKey] = uuid.Nil
	return &Reservation{tm: tm, key: resourceKey}, nil
}

// IsBusy сообщает, занят ли ресурс задачей или резервом.
func (tm *TaskManager) IsBusy(resourceKey string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, ok := tm.busy[resourceKey]
	return ok
}

// enqueueLocked ставит задачу в очередь. slotHeld - место уже удержано резервом.
func (tm *TaskManager) enqueueLocked(ctx context.Context, taskType, resourceKey string, slotHeld bool, fn TaskFunc) (Task, chan struct{}, error) {
	if tm.closed {
		return Task{}, nil, ErrManagerClosed
	}
	if !slotHeld && len(tm.queue)+tm.reserved >= cap(tm.queue) {
		tm.metrics.rejected.WithLabelValues("queue_full").Inc()
		return Task{}, nil, ErrTooManyTasks
	}

	now := tm.now()
	task := &Task{
		ID:          uuid.New(),
		Type:        taskType,
		ResourceKey: resourceKey,
		Status:      TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Задача живёт дольше запроса, который её создал.
	taskLogger := tm.logger.With().
		Str("taskID", task.ID.String()).
		Str("taskType", taskType).
		Str("resource", resourceKey).
		Logger()
	taskCtx := taskLogger.WithContext(context.WithoutCancel(ctx))

	announced := make(chan struct{})
	tm.metrics.pending.Inc()
	select {
	case tm.queue <- &queuedTask{ctx: taskCtx, task: task, fn: fn, announced: announced}:
	default:
		tm.metrics.pending.Dec()
		tm.metrics.rejected.WithLabelValues("queue_full").Inc()
		return Task{}, nil, ErrTooManyTasks
	}
	if slotHeld {
		tm.reserved--
	}

	tm.tasks[task.ID] = task
	if resourceKey != "" {
		tm.busy[resourceKey] = task.ID
	}
	tm.evictLocked()

	tm.metrics.submitted.WithLabelValues(taskType).Inc()
	return *task, announced, nil
}

func (tm *TaskManager) worker() {
	defer tm.wg.Done()
	for qt := range tm.queue {
		tm.runTask(qt)
	}
}

// runTask выполняет задачу и обновляет ее статус
func (tm *TaskManager) runTask(qt *queuedTask) {
	ctx := qt.ctx
	<-qt.announced
	tm.metrics.pending.Dec()
	tm.metrics.running.Inc()
	tm.updateTaskStatus(ctx, qt.task, TaskStatusRunning, nil)

	start := tm.now()
	err := safeRun(ctx, qt.fn)
	tm.metrics.duration.WithLabelValues(qt.task.Type).Observe(time.Since(start).Seconds())
	tm.metrics.running.Dec()

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Задача завершилась с ошибкой")
		tm.updateTaskStatus(ctx, qt.task, TaskStatusFailed, err)
		return
	}
	log.Ctx(ctx).Info().Msg("Задача успешно выполнена")
	tm.updateTaskStatus(ctx, qt.task, TaskStatusSucceeded, nil)
}

func safeRun(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task: %v", r)
		}
	}()
	return fn(ctx)
}

// updateTaskStatus меняет статус под блокировкой, а уведомляет уже без неё.
// Терминальный статус освобождает ресурс задачи.
func (tm *TaskManager) updateTaskStatus(ctx context.Context, task *Task, status TaskStatus, taskErr error) {
	tm.mu.Lock()
	now := tm.now()
	task.Status = status
	task.UpdatedAt = now
	switch {
	case status == TaskStatusRunning:
		task.StartedAt = &now
	case status.Terminal():
		task.FinishedAt = &now
		if taskErr != nil {
			task.Error = taskErr.Error()
		}
		if task.ResourceKey != "" && tm.busy[task.ResourceKey] == task.ID {
			delete(tm.busy, task.ResourceKey)
		}
		tm.metrics.finished.WithLabelValues(task.Type, string(status)).Inc()
	}
	snapshot := *task
	notifier := tm.notifier
	tm.mu.Unlock()

	log.Ctx(ctx).Debug().Str("newStatus", string(status)).Msg("Статус задачи обновлен")
	tm.notify(ctx, notifier, snapshot)
}

func (tm *TaskManager) notify(ctx context.Context, notifier StatusNotifier, snapshot Task) {
	if notifier == nil {
		return
	}
	notifier.NotifyTaskStatus(ctx, snapshot)
}

// GetTask возвращает снимок задачи по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}

// ListTasks возвращает снимки всех задач реестра, новые первыми.
func (tm *TaskManager) ListTasks() []Task {
	tm.mu.RLock()
	result := make([]Task, 0, len(tm.tasks))
	for _, task := range tm.tasks {
		result = append(result, *task)
	}
	tm.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskManager) CleanupTasks(age time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.now()
	removed := 0
	for id, task := range tm.tasks {
		if task.Status.Terminal() && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		tm.metrics.evicted.Add(float64(removed))
		tm.logger.Debug().Int("removed", removed).Msg("Старые задачи удалены из реестра")
	}
}

// evictLocked удерживает размер реестра в пределах MaxRetained, удаляя
// самые старые завершенные задачи. Незавершенные не трогаются никогда.
func (tm *TaskManager) evictLocked() {
	limit := tm.cfg.MaxRetained
	if limit <= 0 || len(tm.tasks) <= limit {
		return
	}

	terminal := make([]*Task, 0, len(tm.tasks))
	for _, task := range tm.tasks {
		if task.Status.Terminal() {
			terminal = append(terminal, task)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].UpdatedAt.Before(terminal[j].UpdatedAt)
	})

	excess := len(tm.tasks) - limit
	for i := 0; i < excess && i < len(terminal); i++ {
		delete(tm.tasks, terminal[i].ID)
		tm.metrics.evicted.Inc()
	}
}

func (tm *TaskManager) cleanupLoop() {
	defer tm.janitor.Done()
	ticker := time.NewTicker(tm.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tm.CleanupTasks(tm.cfg.RetainFor)
		case <-tm.closing:
			return
		}
	}
}

// Shutdown перестает принимать задачи и ждет, пока воркеры разберут
// очередь. Выполняющиеся задачи не прерываются.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		return nil
	}
	tm.closed = true
	close(tm.queue)
	close(tm.closing)
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		tm.janitor.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения задач")
	}
}

// Reservation - занятый ресурс, под который еще не поставлена задача.
type Reservation struct {
	tm        *TaskManager
	key       string
	submitted bool
	released  bool
}

// Key возвращает ключ зарезервированного ресурса.
func (r *Reservation) Key() string {
	return r.key
}

// Submit ставит задачу под резерв. Ресурс освободится, когда задача
// завершится. При ошибке резерв остается за вызывающим.
func (r *Reservation) Submit(ctx context.Context, taskType string, fn TaskFunc) (uuid.UUID, error) {
	tm := r.tm
	tm.mu.Lock()
	if r.submitted || r.released {
		tm.mu.Unlock()
		return uuid.Nil, errors.New("reservation already used")
	}
	snapshot, announced, err := tm.enqueueLocked(ctx, taskType, r.key, true, fn)
	if err == nil {
		r.submitted = true
	}
	notifier := tm.notifier
	tm.mu.Unlock()
	if err != nil {
		return uuid.Nil, err
	}

	tm.notify(ctx, notifier, snapshot)
	close(announced)
	return snapshot.ID, nil
}

// Release освобождает ресурс и место в очереди, если задача так и не
// была поставлена.
// Повторный вызов безопасен.
func (r *Reservation) Release() {
	tm := r.tm
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if r.submitted || r.released {
		return
	}
	r.released = true
	tm.reserved--
	if id, ok := tm.busy[r.key]; ok && id == uuid.Nil {
		delete(tm.busy, r.key)
	}
}
