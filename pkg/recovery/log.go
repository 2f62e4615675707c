package recovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gregtusar/zerodte/pkg/models"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AttemptLog is an append-only sink for recovery attempts.
type AttemptLog interface {
	Append(attempt models.RecoveryAttempt) error
}

type FileLogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// FileLog writes one JSON object per line. Every Append is a single write
// to the underlying file, so nothing needs flushing on shutdown.
type FileLog struct {
	mu sync.Mutex
	w  io.Writer
}

type logEntry struct {
	Timestamp       string  `json:"timestamp"`
	FailureType     string  `json:"failure_type"`
	Component       string  `json:"component"`
	AttemptNumber   int     `json:"attempt_number"`
	Status          string  `json:"status"`
	Details         string  `json:"details"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func NewFileLog(cfg FileLogConfig) (*FileLog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("recovery log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recovery log dir: %w", err)
	}
	return &FileLog{
		w: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

// NewWriterLog wraps an arbitrary writer.
func NewWriterLog(w io.Writer) *FileLog {
	return &FileLog{w: w}
}

func (l *FileLog) Append(attempt models.RecoveryAttempt) error {
	b, err := json.Marshal(logEntry{
		Timestamp:       attempt.Timestamp.Format(time.RFC3339Nano),
		FailureType:     attempt.FailureType,
		Component:       attempt.Component,
		AttemptNumber:   attempt.AttemptNumber,
		Status:          string(attempt.Status),
		Details:         attempt.Details,
		DurationSeconds: attempt.Duration.Seconds(),
	})
	if err != nil {
		return err
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(b)
	return err
}

func (l *FileLog) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadLog parses a JSONL recovery log. Malformed lines are skipped and
// counted.
func ReadLog(r io.Reader) ([]models.RecoveryAttempt, int, error) {
	var (
		out     []models.RecoveryAttempt
		skipped int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e logEntry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, models.RecoveryAttempt{
			Timestamp:     ts,
			FailureType:   e.FailureType,
			Component:     e.Component,
			AttemptNumber: e.AttemptNumber,
			Status:        models.RecoveryStatus(e.Status),
			Details:       e.Details,
			Duration:      time.Duration(e.DurationSeconds * float64(time.Second)),
		})
	}
	return out, skipped, sc.Err()
}

// ReadLogFile is ReadLog for a path; a missing file yields no attempts.
func ReadLogFile(path string) ([]models.RecoveryAttempt, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	attempts, _, err := ReadLog(f)
	return attempts, err
}
