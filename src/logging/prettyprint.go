package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/stolostron/console-sub025/src/shell"

	"github.com/nwidger/jsoncolor"
)

type LogLine struct {
	Level     string
	Component string
	Scope     *string
	Source    string
	Message   string
	Payload   map[string]any
}

// NewJSONHandler returns the machine readable handler. Every string attribute
// passes through filterFunc so secrets never reach the output.
func NewJSONHandler(out io.Writer, logLevel slog.Level, filterFunc func(msg string) string) slog.Handler {
	return slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Value.Kind() == slog.KindString && filterFunc != nil {
				attr.Value = slog.StringValue(filterFunc(attr.Value.String()))
			}
			return attr
		},
	})
}

// PrettyPrintHandler

type PrettyPrintHandler struct {
	out        io.Writer
	outLock    *sync.Mutex
	colors     bool
	logLevel   slog.Level
	logFilter  []string
	attrs      []slog.Attr
	group      string
	filterFunc func(msg string) string
}

func NewPrettyPrintHandler(
	out io.Writer,
	enableColors bool,
	logLevel slog.Level,
	logFilter []string,
	filterFunc func(msg string) string,
) slog.Handler {
	self := &PrettyPrintHandler{}

	self.out = out
	self.outLock = &sync.Mutex{}
	self.colors = enableColors
	self.logLevel = logLevel
	self.logFilter = logFilter
	self.attrs = []slog.Attr{}
	self.group = ""
	self.filterFunc = filterFunc

	return self
}

func (self *PrettyPrintHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= self.logLevel.Level()
}

func (self *PrettyPrintHandler) Handle(ctx context.Context, record slog.Record) error {
	component := self.getComponent()

	// apply MCW_LOG_FILTER
	if len(self.logFilter) > 0 && !slices.Contains(self.logFilter, component) {
		return nil
	}

	logLine := LogLine{}

	logLine.Level = record.Level.String()
	logLine.Component = component
	logLine.Scope = self.tryGetScope()
	logLine.Source = slogRecordToSourceString(record)
	logLine.Message = record.Message
	logLine.Payload = slogRecordToPayload(record, self.filterFunc)

	return self.printLogLine(logLine)
}

func (self *PrettyPrintHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	other := *self
	other.attrs = append(slices.Clone(self.attrs), attrs...)

	return &other
}

func (self *PrettyPrintHandler) WithGroup(group string) slog.Handler {
	other := *self
	other.group = group

	return &other
}

func (self *PrettyPrintHandler) getComponent() string {
	for _, attr := range self.attrs {
		if attr.Key == "component" {
			return attr.Value.String()
		}
	}
	return "unknown"
}

func (self *PrettyPrintHandler) tryGetScope() *string {
	for _, attr := range self.attrs {
		if attr.Key == "scope" {
			scope := attr.Value.String()
			return &scope
		}
	}
	return nil
}

func (self *PrettyPrintHandler) printLogLine(logLine LogLine) error {
	payloadString := ""
	if self.colors {
		switch logLine.Level {
		case "DEBUG":
			logLine.Level = shell.Cyan + logLine.Level + shell.Reset
		case "INFO":
			logLine.Level = shell.Green + logLine.Level + shell.Reset
		case "WARN":
			logLine.Level = shell.Yellow + logLine.Level + shell.Reset
		case "ERROR":
			logLine.Level = shell.Red + logLine.Level + shell.Reset
		}
		logLine.Component = shell.Magenta + logLine.Component + shell.Reset
		if logLine.Scope != nil {
			mscope := shell.FaintYellow + *logLine.Scope + shell.Reset
			logLine.Component = logLine.Component + shell.Faint + "{" + shell.Reset + mscope + shell.Faint + "}" + shell.Reset
		}
		logLine.Source = shell.Faint + logLine.Source + shell.Reset

		if len(logLine.Payload) > 0 {
			data, err := jsoncolor.Marshal(logLine.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal log payload: %w", err)
			}
			payloadString = string(data)
		}
	} else {
		if logLine.Scope != nil {
			logLine.Component = logLine.Component + "{" + *logLine.Scope + "}"
		}
		if len(logLine.Payload) > 0 {
			data, err := json.Marshal(logLine.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal log payload: %w", err)
			}
			payloadString = string(data)
		}
	}

	self.outLock.Lock()
	defer self.outLock.Unlock()

	_, err := fmt.Fprintf(
		self.out,
		"%s %s %s %s %s\n",
		logLine.Level,
		logLine.Component,
		logLine.Source,
		logLine.Message,
		payloadString,
	)

	return err
}

func slogRecordToSourceString(record slog.Record) string {
	frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}

func slogRecordToPayload(record slog.Record, filterFunc func(data string) string) map[string]any {
	attrs := make(map[string]any)

	record.Attrs(func(attr slog.Attr) bool {
		switch value := attr.Value.Any().(type) {
		case string:
			if filterFunc != nil {
				value = filterFunc(value)
			}
			attrs[attr.Key] = value
		case error:
			attrs[attr.Key] = value.Error()
		case fmt.Stringer:
			attrs[attr.Key] = value.String()
		default:
			attrs[attr.Key] = value
		}
		return true
	})

	return attrs
}
