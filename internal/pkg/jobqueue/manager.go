package jobqueue

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// Manager manages the global job queue
type Manager struct {
	queue   *Queue
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton). The provider
// client is captured on first call; later calls ignore the argument.
func GetManager(provider ProviderCaller) *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			queue: NewQueue(3, provider),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	log.Info("[JobQueue Manager] Starting job queue")
	m.queue.Start()
	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue workers
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	log.Info("[JobQueue Manager] Stopping job queue...")
	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

// Enqueuer adapts the queue to the retry-enqueuer shape the subscription
// service expects.
type Enqueuer struct {
	queue *Queue
}

// NewEnqueuer wraps a queue for provider-retry enqueueing.
func NewEnqueuer(queue *Queue) *Enqueuer {
	return &Enqueuer{queue: queue}
}

// EnqueueProviderRetry queues a failed provider call for replay.
func (e *Enqueuer) EnqueueProviderRetry(op, subscriptionID string, args map[string]string) error {
	payload := ProviderRetryJobPayload{
		Op:             op,
		SubscriptionID: subscriptionID,
		Args:           args,
	}
	_, err := e.queue.EnqueueJob(JobTypeProviderRetry, payload.ToMap())
	return err
}
