package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RecognitionEvent represents a recognition lifecycle event
type RecognitionEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	UserID         string                 `json:"user_id"`
	FileSize       int64                  `json:"file_size"`
	ProcessingTime time.Duration          `json:"processing_time"`
	TextLength     int                    `json:"text_length"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of recognition event
type EventType string

const (
	// RecognitionStarted when a recognition attempt begins
	RecognitionStarted EventType = "recognition_started"
	// RecognitionCompleted when text was recovered
	RecognitionCompleted EventType = "recognition_completed"
	// RecognitionNoText when the task completed without recognizable text
	RecognitionNoText EventType = "recognition_no_text"
	// RecognitionFailed when submission or polling failed
	RecognitionFailed EventType = "recognition_failed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event RecognitionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event RecognitionEvent)
}

// LoggingObserver logs recognition events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles recognition events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event RecognitionEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"user_id":         event.UserID,
		"file_size":       event.FileSize,
		"processing_time": event.ProcessingTime,
		"success":         event.Success,
	}

	if event.TextLength > 0 {
		fields["text_length"] = event.TextLength
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	if event.Metadata != nil {
		for k, v := range event.Metadata {
			fields[k] = v
		}
	}

	switch event.EventType {
	case RecognitionStarted:
		o.logger.WithFields(fields).Info("Recognition started")
	case RecognitionCompleted:
		o.logger.WithFields(fields).Info("Recognition completed")
	case RecognitionNoText:
		o.logger.WithFields(fields).Warn("Recognition found no text")
	case RecognitionFailed:
		o.logger.WithFields(fields).Error("Recognition failed")
	default:
		o.logger.WithFields(fields).Info("Recognition event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects metrics from recognition events
type MetricsObserver struct {
	mu                  sync.RWMutex
	totalAttempts       int64
	successfulAttempts  int64
	noTextAttempts      int64
	failedAttempts      int64
	totalProcessingTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() Observer {
	return &MetricsObserver{}
}

// OnEvent handles recognition events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event RecognitionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case RecognitionStarted:
		o.totalAttempts++
	case RecognitionCompleted:
		o.successfulAttempts++
		o.totalProcessingTime += event.ProcessingTime
	case RecognitionNoText:
		o.noTextAttempts++
	case RecognitionFailed:
		o.failedAttempts++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successfulAttempts > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successfulAttempts)
	}

	return map[string]interface{}{
		"total_attempts":        o.totalAttempts,
		"successful_attempts":   o.successfulAttempts,
		"no_text_attempts":      o.noTextAttempts,
		"failed_attempts":       o.failedAttempts,
		"total_processing_time": o.totalProcessingTime,
		"avg_processing_time":   avgProcessingTime,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() Subject {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event
func (p *EventPublisher) NotifyObservers(ctx context.Context, event RecognitionEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		go func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
