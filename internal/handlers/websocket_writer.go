package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/colligo/internal/common"
)

// WebSocketLogWriter consumes arbor log batches over a channel and broadcasts
// the lines that pass level and pattern filters to WebSocket clients. Attach
// it with logger.SetChannel.
type WebSocketLogWriter struct {
	handler         *WebSocketHandler
	logger          arbor.ILogger
	channel         chan []arbormodels.LogEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewWebSocketLogWriter creates the log broadcaster.
func NewWebSocketLogWriter(handler *WebSocketHandler, wsConfig *common.WebSocketConfig, logger arbor.ILogger) *WebSocketLogWriter {
	minLevel := levels.InfoLevel
	var excludePatterns []string

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		excludePatterns = wsConfig.ExcludePatterns
	}
	if len(excludePatterns) == 0 {
		excludePatterns = []string{
			"WebSocket client connected",
			"WebSocket client disconnected",
			"HTTP request",
			"HTTP response",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketLogWriter{
		handler:         handler,
		logger:          logger,
		channel:         make(chan []arbormodels.LogEvent, 10),
		ctx:             ctx,
		cancel:          cancel,
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
	}
}

// GetChannel returns the channel for arbor to send log batches to.
func (w *WebSocketLogWriter) GetChannel() chan []arbormodels.LogEvent {
	return w.channel
}

// Start launches the consumer goroutine.
func (w *WebSocketLogWriter) Start() {
	w.wg.Add(1)
	go w.consume()
}

// Close drains and stops the consumer.
func (w *WebSocketLogWriter) Close() error {
	w.cancel()
	w.wg.Wait()
	return nil
}

func (w *WebSocketLogWriter) consume() {
	defer w.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("WebSocket log consumer panic recovered")
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case batch, ok := <-w.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				w.broadcast(event)
			}
		}
	}
}

func (w *WebSocketLogWriter) broadcast(event arbormodels.LogEvent) {
	arborLevel := plogToArborLevel(event.Level)
	if arborLevel < w.minLevel {
		return
	}
	for _, pattern := range w.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return
		}
	}

	// NOTE: BroadcastLog must not log, or every broadcast would feed the
	// channel again.
	w.handler.BroadcastLog(LogEntry{
		Timestamp: event.Timestamp.Format("15:04:05"),
		Level:     mapLevel(arborLevel),
		Message:   event.Message,
	})
}

// plogToArborLevel converts phuslu/log.Level to arbor levels.LogLevel
func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// parseLogLevel converts string log level to arbor levels.LogLevel
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// mapLevel maps arbor log levels to UI strings
func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
