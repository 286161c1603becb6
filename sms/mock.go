package sms

import (
	"context"
	"log/slog"
)

// MockMessage records one delivery attempt made through the mock provider.
type MockMessage struct {
	Phone string
	Body  string
}

// MockProvider logs messages instead of sending them. Used in tests and for
// dry runs without an API key.
type MockProvider struct {
	logger   *slog.Logger
	Messages []MockMessage
}

// NewMockProvider creates a new mock SMS provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send records the message and logs it.
func (m *MockProvider) Send(_ context.Context, phone, message string) error {
	m.Messages = append(m.Messages, MockMessage{Phone: phone, Body: message})
	m.logger.Info("MOCK SMS",
		"phone", phone,
		"body_length", len(message))
	return nil
}
