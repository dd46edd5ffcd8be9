package hostsignal

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSignal reports the host offline while a marker file exists.
// It watches the marker's directory, so the marker may come and go.
type FileSignal struct {
	path    string
	target  Target
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileSignal creates a signal for the marker at path. It must be started
// with Start before it reports anything.
func NewFileSignal(path string, target Target, logger *slog.Logger) (*FileSignal, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve marker path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSignal{path: abs, target: target, logger: logger}, nil
}

// Path returns the absolute marker path.
func (s *FileSignal) Path() string {
	return s.path
}

// Start reports the current marker state and begins watching.
func (s *FileSignal) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("file signal already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	s.running = true
	s.report()

	s.wg.Add(1)
	go s.processEvents()
	return nil
}

// Stop stops watching and waits for the event goroutine to exit.
func (s *FileSignal) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (s *FileSignal) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.report()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("connectivity marker watch failed, assuming online", "path", s.path, "error", err)
			s.target.SetOnline(true)
		}
	}
}

// report pushes the marker's current state to the target.
func (s *FileSignal) report() {
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		s.target.SetOnline(false)
	case errors.Is(err, fs.ErrNotExist):
		s.target.SetOnline(true)
	default:
		s.logger.Warn("connectivity marker unreadable, assuming online", "path", s.path, "error", err)
		s.target.SetOnline(true)
	}
}
