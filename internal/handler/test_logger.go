package handler

import (
	"sync"

	"highlight-store/internal/domain"
)

// MockHandlerLogger records error and warning messages for handler tests.
type MockHandlerLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func NewMockHandlerLogger() *MockHandlerLogger {
	return &MockHandlerLogger{}
}

func (l *MockHandlerLogger) Info(msg string, fields ...interface{})  {}
func (l *MockHandlerLogger) Debug(msg string, fields ...interface{}) {}

func (l *MockHandlerLogger) Error(msg string, err error, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *MockHandlerLogger) Warn(msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// Errors returns the messages logged at error level.
func (l *MockHandlerLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

// Warnings returns the messages logged at warn level.
func (l *MockHandlerLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

var _ domain.Logger = (*MockHandlerLogger)(nil)
