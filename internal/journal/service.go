package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBuffer = 256
	// DefaultRecentLimit is used when Recent receives a non-positive limit.
	DefaultRecentLimit = 50
	// MaxRecentLimit caps Recent.
	MaxRecentLimit = 500
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "journal.service.new"
	opPersist    = "journal.persist"
	opRecent     = "journal.recent"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	Buffer     int
}

// Service records events asynchronously so callers on the hub loop never wait on
// the database.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
}

// NewService validates dependencies and starts the persistence worker.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	service := &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	service.workers.Add(1)
	go service.run()
	return service, nil
}

// Record queues an event. It never blocks; events are dropped when the queue is full.
func (s *Service) Record(event Event) {
	if s == nil {
		return
	}
	if event.OccurredAtSeconds == 0 {
		event.OccurredAtSeconds = s.clock().UTC().Unix()
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("journal queue full, event dropped", zap.String("kind", event.Kind.String()))
	}
}

// Recent returns the newest events first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	var events []Event
	if err := s.db.WithContext(ctx).
		Order("occurred_at_s DESC").
		Order("event_id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		s.logError(opRecent, "query_failed", err)
		return nil, newServiceError(opRecent, "query_failed", err)
	}
	return events, nil
}

// Close stops accepting events and waits until queued ones are persisted.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.workers.Wait()
}

func (s *Service) run() {
	defer s.workers.Done()
	for {
		select {
		case event := <-s.queue:
			s.persist(event)
		case <-s.done:
			for {
				select {
				case event := <-s.queue:
					s.persist(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) persist(event Event) {
	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPersist, "id_generation_failed", err, zap.String("kind", event.Kind.String()))
		return
	}
	event.EventID = eventID
	if err := s.db.Create(&event).Error; err != nil {
		s.logError(opPersist, "insert_failed", err,
			zap.String("kind", event.Kind.String()),
			zap.Int64("connection_id", event.ConnectionID))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("journal service error", attrs...)
}
