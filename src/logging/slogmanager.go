package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stolostron/console-sub025/src/assert"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type SlogManager interface {
	// Get the pointer to an existing logger by its componentId
	GetLogger(componentId string) (*slog.Logger, error)
	// Create a new logger with a unique componentId
	CreateLogger(componentId string) *slog.Logger
}

// Since this is only a logger we can simply always provide a default logger from golangs stdlib
type MockSlogManager struct {
	writer io.Writer
}

type testWriter struct {
	t *testing.T
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	// background goroutines may outlive the test
	select {
	case <-w.t.Context().Done():
		return len(p), nil
	default:
	}
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func NewMockSlogManager(t *testing.T) *MockSlogManager {
	return &MockSlogManager{
		writer: &testWriter{t: t},
	}
}

func (m *MockSlogManager) GetLogger(componentId string) (*slog.Logger, error) {
	return m.CreateLogger(componentId), nil
}

func (m *MockSlogManager) CreateLogger(componentId string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(m.writer, &slog.HandlerOptions{Level: slog.LevelDebug})).With("component", componentId)
}

type slogManager struct {
	logLevel      slog.Level
	handlers      []slog.Handler
	activeLoggers map[string]*slog.Logger
	lock          sync.Mutex
}

func NewSlogManager(logLevel slog.Level, handlers []slog.Handler) SlogManager {
	self := &slogManager{}

	self.logLevel = logLevel
	self.handlers = handlers
	if self.handlers == nil {
		self.handlers = []slog.Handler{}
	}
	self.activeLoggers = map[string]*slog.Logger{}

	return self
}

func (self *slogManager) GetLogger(componentId string) (*slog.Logger, error) {
	self.lock.Lock()
	defer self.lock.Unlock()

	logger := self.activeLoggers[componentId]
	if logger != nil {
		return logger, nil
	}

	return nil, fmt.Errorf("logger '%s' does not exist", componentId)
}

func (self *slogManager) CreateLogger(componentId string) *slog.Logger {
	self.lock.Lock()
	defer self.lock.Unlock()

	assert.Assert(componentId != "", "componentId may not be empty")
	assert.Assert(self.activeLoggers[componentId] == nil, fmt.Errorf("logger was requested multiple times: %s", componentId))

	multiHandler := NewSlogMultiHandler()
	for _, handler := range self.handlers {
		multiHandler.AddHandler(handler)
	}

	logger := slog.New(multiHandler).With("component", componentId)
	self.activeLoggers[componentId] = logger

	return logger
}

func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}

	return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
}

// SlogMultiHandler

type SlogMultiHandler struct {
	inner []slog.Handler
}

func NewSlogMultiHandler() *SlogMultiHandler {
	self := &SlogMultiHandler{}
	self.inner = []slog.Handler{}

	return self
}

func (self *SlogMultiHandler) AddHandler(handler slog.Handler) {
	self.inner = append(self.inner, handler)
}

func (self *SlogMultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range self.inner {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (self *SlogMultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range self.inner {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		err := handler.Handle(ctx, record.Clone())
		if err != nil {
			return err
		}
	}

	return nil
}

func (self *SlogMultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	other := NewSlogMultiHandler()
	for _, handler := range self.inner {
		other.AddHandler(handler.WithAttrs(attrs))
	}

	return other
}

func (self *SlogMultiHandler) WithGroup(group string) slog.Handler {
	other := NewSlogMultiHandler()
	for _, handler := range self.inner {
		other.AddHandler(handler.WithGroup(group))
	}

	return other
}
