package rules

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileSource serves rules from a YAML file and reloads them when it changes.
type FileSource struct {
	path         string
	pollInterval time.Duration

	mu      sync.RWMutex
	rules   []*Rule
	modTime time.Time
}

func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path, pollInterval: 60 * time.Second}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) Rules(context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules, nil
}

// Reload re-reads the file. A file that fails to parse leaves the current
// rules in place.
func (s *FileSource) Reload() error {
	st, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	raw, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	compiled := CompileAll(raw)

	s.mu.Lock()
	s.rules = compiled
	s.modTime = st.ModTime()
	s.mu.Unlock()

	for _, r := range compiled {
		if r.Err != nil {
			log.Warn().Err(r.Err).Str("rule_id", r.ID).Msg("rule disabled, failed to compile")
		}
	}
	log.Info().Str("path", s.path).Int("rules", len(compiled)).Msg("rules loaded")
	return nil
}

func (s *FileSource) reloadIfChanged() {
	st, err := os.Stat(s.path)
	if err != nil {
		return
	}
	s.mu.RLock()
	changed := !st.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if changed {
		if err := s.Reload(); err != nil {
			log.Error().Err(err).Str("path", s.path).Msg("rules reload failed")
		}
	}
}

// Watch reloads on fsnotify events and also polls the file's mtime as a
// fallback. It returns when ctx is done.
func (s *FileSource) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("rules watcher: fsnotify unavailable, polling only")
	} else if err := watcher.Add(s.path); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("rules watcher: cannot watch file, polling only")
		watcher.Close()
		watcher = nil
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Editors write in several steps.
				time.Sleep(100 * time.Millisecond)
				s.reloadIfChanged()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && watcher != nil {
				// Atomic saves replace the inode; re-arm on the new file.
				time.Sleep(100 * time.Millisecond)
				_ = watcher.Add(s.path)
				s.reloadIfChanged()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("rules watcher error")
		case <-ticker.C:
			s.reloadIfChanged()
		}
	}
}
