package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Journal appends JSON lines to baseDir/<date>/status.jsonl. Records are
// queued and written by one goroutine; a full queue drops the record.
type Journal struct {
	baseDir   string
	maxSizeMB int
	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	now       func() time.Time

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// JournalEntry is one status event as stored in the journal.
type JournalEntry struct {
	Time time.Time       `json:"time"`
	Feed string          `json:"feed"`
	ID   int64           `json:"id"`
	Data json.RawMessage `json:"data"`
}

// NewJournal starts the writer goroutine.
func NewJournal(baseDir string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Write queues a record without blocking.
func (j *Journal) Write(record any) error {
	select {
	case <-j.done:
		return fmt.Errorf("journal is closed")
	default:
	}
	select {
	case j.writeCh <- record:
		return nil
	default:
		slog.Warn("journal buffer full, dropping record")
		return fmt.Errorf("buffer full")
	}
}

// Close stops the writer after flushing whatever is queued.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.done) })
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		err := j.logger.Close()
		j.logger = nil
		return err
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case record := <-j.writeCh:
			j.writeRecord(record)
		case <-j.done:
			for {
				select {
				case record := <-j.writeCh:
					j.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if j.logger == nil || date != j.currentDate {
		if err := j.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "error", err)
			return
		}
	}
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err)
	}
}

func (j *Journal) rotateForDate(date string) error {
	if j.logger != nil {
		if err := j.logger.Close(); err != nil {
			slog.Debug("journal close on rotation failed", "date", j.currentDate, "error", err)
		}
		j.logger = nil
	}
	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, "status.jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 20,
		MaxAge:     30,
	}
	j.currentDate = date
	slog.Info("journal file opened", "file", filename)
	return nil
}
