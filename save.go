package collider

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// SaveResult reports one finished save job. Delivered by value on the
// results channel so no receiver ever holds a pointer into the worker's
// internals after the worker shuts down.
type SaveResult struct {
	Path string
	OK   bool
	Err  string
}

type saveJob struct {
	path string
	data []byte
}

// SaveWorker writes presets to disk off the UI thread. Jobs carry an
// already-serialized, independent copy of the state, so the worker has no
// ownership or lifetime dependency on live host objects. Writes are atomic:
// a temp file in the target directory, then a rename.
type SaveWorker struct {
	jobs    chan saveJob
	results chan SaveResult
	logger  *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewSaveWorker starts the background goroutine. queue bounds how many
// saves may be pending; Enqueue reports false when it is full.
func NewSaveWorker(queue int, logger *zap.Logger) *SaveWorker {
	if queue <= 0 {
		queue = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &SaveWorker{
		jobs:    make(chan saveJob, queue),
		results: make(chan SaveResult, queue),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands the worker a save job. data must already be an independent
// serialized copy; the worker defensively copies it anyway.
func (w *SaveWorker) Enqueue(path string, data []byte) bool {
	job := saveJob{path: path, data: append([]byte(nil), data...)}
	select {
	case w.jobs <- job:
		return true
	default:
		w.logger.Warn("save queue full, job rejected", zap.String("path", path))
		return false
	}
}

// Results delivers completion notifications. Receive on the UI/event
// goroutine; the channel is buffered and results are dropped, not blocked
// on, when nobody listens.
func (w *SaveWorker) Results() <-chan SaveResult {
	return w.results
}

// Close stops the worker after draining pending jobs.
func (w *SaveWorker) Close() {
	w.closeOnce.Do(func() {
		close(w.jobs)
		<-w.done
	})
}

func (w *SaveWorker) run() {
	defer close(w.done)
	for job := range w.jobs {
		res := SaveResult{Path: job.path}
		if err := writeFileAtomic(job.path, job.data); err != nil {
			res.Err = err.Error()
			w.logger.Error("preset save failed", zap.String("path", job.path), zap.Error(err))
		} else {
			res.OK = true
			w.logger.Info("preset saved", zap.String("path", job.path), zap.Int("bytes", len(job.data)))
		}
		select {
		case w.results <- res:
		default:
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".preset-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write preset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close preset: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename preset: %w", err)
	}
	return nil
}

// LoadPresetFile reads and applies a preset from disk.
func (h *Host) LoadPresetFile(path string, factory ModuleFactory) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read preset: %w", err)
	}
	return h.DecodePreset(data, factory)
}
