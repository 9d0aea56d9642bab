package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(11001, "test error")

	if err.Code != 11001 {
		t.Errorf("Expected code 11001, got %d", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("Expected message 'test error', got '%s'", err.Message)
	}
	if err.Err != nil {
		t.Error("Expected Err to be nil")
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(11001, "test error"),
			expected: "[11001] test error",
		},
		{
			name:     "with wrapped error",
			err:      NewError(11001, "test error").Wrap(errors.New("original error")),
			expected: "[11001] test error: original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestAppError_Wrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := ErrConversationNotFound.Wrap(originalErr)

	if appErr.Code != ErrConversationNotFound.Code {
		t.Errorf("Expected code %d, got %d", ErrConversationNotFound.Code, appErr.Code)
	}
	if appErr.Message != ErrConversationNotFound.Message {
		t.Errorf("Expected message '%s', got '%s'", ErrConversationNotFound.Message, appErr.Message)
	}
	if appErr.Err != originalErr {
		t.Error("Expected wrapped error to be the original error")
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := ErrNotParticipant.Wrap(originalErr)

	unwrapped := errors.Unwrap(appErr)
	if unwrapped != originalErr {
		t.Error("Expected unwrapped error to be the original error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   *AppError
		expected bool
	}{
		{
			name:     "same error",
			err:      ErrNotParticipant,
			target:   ErrNotParticipant,
			expected: true,
		},
		{
			name:     "wrapped same error",
			err:      ErrNotParticipant.Wrap(errors.New("wrapped")),
			target:   ErrNotParticipant,
			expected: true,
		},
		{
			name:     "different error",
			err:      ErrEmptyMessage,
			target:   ErrNotParticipant,
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("plain"),
			target:   ErrNotParticipant,
			expected: false,
		},
		{
			name:     "fmt wrapped app error",
			err:      fmt.Errorf("context: %w", ErrMessageTooLong),
			target:   ErrMessageTooLong,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(ErrEmptyMessage); got != CodeEmptyMessage {
		t.Errorf("Expected code %d, got %d", CodeEmptyMessage, got)
	}
	if got := GetCode(errors.New("plain")); got != CodeServerError {
		t.Errorf("Expected default code %d, got %d", CodeServerError, got)
	}
}

func TestGetMessage(t *testing.T) {
	if got := GetMessage(ErrNoActiveConversation); got != ErrNoActiveConversation.Message {
		t.Errorf("Expected message '%s', got '%s'", ErrNoActiveConversation.Message, got)
	}
	if got := GetMessage(errors.New("plain")); got != "服务器内部错误" {
		t.Errorf("Expected default message, got '%s'", got)
	}
}
