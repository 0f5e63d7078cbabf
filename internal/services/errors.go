package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrProcessing    = errors.New("processing error")
	ErrTimeout       = errors.New("timeout")
	ErrInvalidState  = errors.New("invalid state")
	ErrConfiguration = errors.New("configuration error")
	ErrDuplicate     = errors.New("duplicate")
	ErrCancelled     = errors.New("cancelled")
)

// Kind values are the stable identifiers persisted on failed jobs and
// returned to API clients.
const (
	KindValidation    = "validation"
	KindNotFound      = "not_found"
	KindProcessing    = "processing"
	KindTimeout       = "timeout"
	KindInvalidState  = "invalid_state"
	KindConfiguration = "configuration"
	KindDuplicate     = "duplicate"
	KindCancelled     = "cancelled"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrProcessing
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error to its stable kind string. Unclassified errors are
// reported as processing failures.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindProcessing
	}
}

// MarkerForKind is the inverse of KindOf for errors rebuilt from storage.
func MarkerForKind(kind string) error {
	switch strings.TrimSpace(kind) {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindTimeout:
		return ErrTimeout
	case KindInvalidState:
		return ErrInvalidState
	case KindConfiguration:
		return ErrConfiguration
	case KindDuplicate:
		return ErrDuplicate
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrProcessing
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
