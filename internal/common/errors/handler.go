package errors

import (
	"time"

	eventbus "enrollment-sync/internal/engine/event-bus"
)

// Logger is the subset of logger.Logger the handler needs.
type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Publisher is the subset of the event bus the handler needs.
type Publisher interface {
	Publish(kind eventbus.Kind, payload interface{})
}

// NoticeHandler turns engine errors into user-visible notices.
type NoticeHandler struct {
	logger    Logger
	publisher Publisher
}

func NewNoticeHandler(logger Logger, publisher Publisher) *NoticeHandler {
	return &NoticeHandler{logger: logger, publisher: publisher}
}

// Handle normalizes err, logs it and publishes a notice. The notice is returned
// so synchronous callers can also present it.
func (h *NoticeHandler) Handle(operation string, err error) eventbus.Notice {
	stdErr := h.normalizeError(err)
	notice := eventbus.Notice{
		Code:     string(stdErr.Code),
		Message:  stdErr.Message,
		Recovery: string(stdErr.Recovery()),
	}

	h.logError(operation, stdErr)
	if h.publisher != nil {
		h.publisher.Publish(eventbus.NoticeRaised, notice)
	}
	return notice
}

func (h *NoticeHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func (h *NoticeHandler) logError(operation string, stdErr *StandardError) {
	if h.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"operation":     operation,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"recovery":      string(stdErr.Recovery()),
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	// Local errors are expected user behaviour.
	if GetErrorCategory(stdErr.Code) == "LOCAL" {
		h.logger.Warn("operation rejected", fields)
		return
	}
	h.logger.Error("operation failed", fields)
}
