package scraping

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"madridtracker/server/config"
	"madridtracker/server/internal/models"
)

// Spider message types.
const (
	MessageItems    = "items"
	MessageComplete = "complete"
	MessageError    = "error"
	MessageStats    = "stats"
)

// SpiderManager runs the external spider process and decodes its output.
type SpiderManager struct {
	logger     *logrus.Logger
	command    string
	scriptPath string
}

// SpiderParams is written to the spider's stdin as JSON.
type SpiderParams struct {
	Zones             []config.Zone `json:"zones"`
	MaxPages          *int          `json:"max_pages,omitempty"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	MaxRetries        int           `json:"max_retries"`
}

// SpiderMessage is one JSON line from the spider's stdout.
type SpiderMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// spiderStats carries request counts since the previous stats message.
type spiderStats struct {
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// SpiderResult summarizes a finished spider run.
type SpiderResult struct {
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	TotalItems int      `json:"total_items"`
	Received   int      `json:"received"`
	Errors     []string `json:"errors"`
}

// BatchHandler receives each items message. Returning an error aborts the run.
type BatchHandler func(ctx context.Context, observations []models.Observation) error

// NewSpiderManager creates a new spider manager. An empty scriptPath runs
// command without arguments.
func NewSpiderManager(command, scriptPath string, logger *logrus.Logger) *SpiderManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	if scriptPath != "" {
		absPath, err := filepath.Abs(scriptPath)
		if err != nil {
			logger.WithError(err).Error("Failed to get absolute path to spider script")
		} else {
			scriptPath = absPath
		}
	}

	return &SpiderManager{
		logger:     logger,
		command:    command,
		scriptPath: scriptPath,
	}
}

// RunSpider executes the spider, feeding decoded batches to handle and
// request counts to stats.
func (m *SpiderManager) RunSpider(ctx context.Context, params SpiderParams, handle BatchHandler, stats *RequestStats) (SpiderResult, error) {
	m.logger.WithFields(logrus.Fields{
		"zones":     len(params.Zones),
		"max_pages": params.MaxPages,
	}).Info("Starting spider")

	inputData, err := json.Marshal(params)
	if err != nil {
		return SpiderResult{}, fmt.Errorf("failed to marshal spider parameters: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var args []string
	if m.scriptPath != "" {
		args = append(args, m.scriptPath)
	}
	cmd := exec.CommandContext(runCtx, m.command, args...)
	cmd.Stdin = bytes.NewBuffer(inputData)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return SpiderResult{}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return SpiderResult{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return SpiderResult{}, fmt.Errorf("failed to start spider: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			m.logger.WithField("source", "spider").Warn(scanner.Text())
		}
	}()

	result, consumeErr := m.consume(runCtx, stdout, handle, stats)
	if consumeErr != nil {
		cancel()
	}
	// drain so the process is not blocked writing to a full pipe
	_, _ = io.Copy(io.Discard, stdout)
	<-stderrDone
	waitErr := cmd.Wait()

	if consumeErr != nil {
		return result, consumeErr
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if waitErr != nil {
		return result, fmt.Errorf("spider execution failed: %w", waitErr)
	}
	if result.Status == MessageError {
		return result, fmt.Errorf("spider reported failure: %s", result.Message)
	}

	m.logger.WithFields(logrus.Fields{
		"status":      result.Status,
		"total_items": result.TotalItems,
		"received":    result.Received,
		"errors":      len(result.Errors),
	}).Info("Spider completed")
	return result, nil
}

// consume decodes spider messages until EOF or a handler failure.
func (m *SpiderManager) consume(ctx context.Context, r io.Reader, handle BatchHandler, stats *RequestStats) (SpiderResult, error) {
	result := SpiderResult{Errors: []string{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		var msg SpiderMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			m.logger.WithError(err).Error("Failed to parse spider message")
			continue
		}

		switch msg.Type {
		case MessageItems:
			var items []models.Observation
			if err := json.Unmarshal(msg.Data, &items); err != nil {
				m.logger.WithError(err).Error("Failed to parse items")
				result.Errors = append(result.Errors, "malformed items message")
				continue
			}
			result.Received += len(items)
			if err := handle(ctx, items); err != nil {
				return result, fmt.Errorf("failed to handle spider items: %w", err)
			}

		case MessageComplete:
			var complete struct {
				Status     string `json:"status"`
				Message    string `json:"message"`
				TotalItems int    `json:"total_items"`
			}
			if err := json.Unmarshal(msg.Data, &complete); err != nil {
				m.logger.WithError(err).Error("Failed to parse completion message")
				continue
			}
			result.Status = complete.Status
			result.Message = complete.Message
			result.TotalItems = complete.TotalItems

		case MessageError:
			var errMsg struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg.Data, &errMsg); err != nil {
				m.logger.WithError(err).Error("Failed to parse error message")
				continue
			}
			m.logger.WithField("message", errMsg.Message).Error("Spider error")
			result.Errors = append(result.Errors, errMsg.Message)
			if errMsg.Status == MessageError {
				result.Status = MessageError
				result.Message = errMsg.Message
			}

		case MessageStats:
			var s spiderStats
			if err := json.Unmarshal(msg.Data, &s); err != nil {
				m.logger.WithError(err).Error("Failed to parse stats message")
				continue
			}
			if stats != nil {
				stats.Add(s.Successful, s.Failed)
			}

		default:
			m.logger.WithField("type", msg.Type).Warn("Unknown spider message type")
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return result, fmt.Errorf("failed to read spider output: %w", err)
	}
	return result, nil
}
