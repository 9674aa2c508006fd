package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound возвращается для неизвестных кампаний, отчётов и элементов каталога.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState возвращается, если операция недопустима в текущем статусе.
	ErrInvalidState = errors.New("invalid state")
	// ErrQuotaExceeded возвращается при превышении лимита кампаний.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// ValidationError указывает на конкретное поле, чтобы UI мог показать ошибку рядом с ним.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError создаёт ошибку валидации поля.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is позволяет сравнивать с ErrValidation через errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundf оборачивает ErrNotFound с описанием объекта.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// InvalidStatef оборачивает ErrInvalidState с описанием причины.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}
