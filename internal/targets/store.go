// Package targets stores the user's target set in a YAML file and streams
// changes to it.
package targets

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/refocus/refocus/internal/config"
	"github.com/refocus/refocus/internal/models"
)

type file struct {
	Targets []string `yaml:"targets"`
}

// FileStore keeps the target set in a YAML file. Writes replace the file
// atomically so watchers never see a partial set.
type FileStore struct {
	logger slog.Logger
	path   string

	mu sync.Mutex
}

// DefaultPath returns ~/.config/refocus/targets.yaml.
func DefaultPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "targets.yaml"), nil
}

func NewFileStore(logger slog.Logger, path string) *FileStore {
	return &FileStore{logger: logger, path: filepath.Clean(path)}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the target set. A missing file is an empty set.
func (s *FileStore) Load() (models.TargetSet, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return models.NewTargetSet(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read targets file")
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse targets file")
	}
	return models.NewTargetSet(f.Targets...), nil
}

// Save replaces the whole target set.
func (s *FileStore) Save(set models.TargetSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(set)
}

func (s *FileStore) save(set models.TargetSet) error {
	data, err := yaml.Marshal(file{Targets: set.Sorted()})
	if err != nil {
		return errors.Wrap(err, "failed to encode targets")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create targets directory")
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return errors.Wrap(err, "failed to write targets file")
	}
	return nil
}

// Add inserts subjects and returns the resulting set.
func (s *FileStore) Add(subjects ...string) (models.TargetSet, error) {
	return s.update(func(set models.TargetSet) {
		for _, raw := range subjects {
			if sub := models.NormalizeSubject(raw); !sub.IsNone() {
				set[sub] = struct{}{}
			}
		}
	})
}

// Remove deletes subjects and returns the resulting set.
func (s *FileStore) Remove(subjects ...string) (models.TargetSet, error) {
	return s.update(func(set models.TargetSet) {
		for _, raw := range subjects {
			delete(set, models.NormalizeSubject(raw))
		}
	})
}

func (s *FileStore) update(fn func(models.TargetSet)) (models.TargetSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(set)
	if err := s.save(set); err != nil {
		return nil, err
	}
	return set, nil
}

// Observe emits the current set and then every distinct set the file takes
// until ctx is done. A file that cannot be read or parsed keeps the last
// good set; a deleted file is an empty set.
func (s *FileStore) Observe(ctx context.Context) (<-chan models.TargetSet, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create targets directory")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	// Editors and atomic writes replace the file, so watch the directory.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrap(err, "failed to watch targets directory")
	}

	out := make(chan models.TargetSet)
	go func() {
		defer close(out)
		defer watcher.Close()

		current, err := s.Load()
		if err != nil {
			s.logger.Warn(ctx, "failed to load targets, starting empty", slog.Error(err))
			current = models.NewTargetSet()
		}
		if !s.send(ctx, out, current) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn(ctx, "targets watcher error", slog.Error(err))
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path {
					continue
				}
				next, err := s.Load()
				if err != nil {
					s.logger.Warn(ctx, "ignoring unreadable targets file", slog.Error(err))
					continue
				}
				if next.Equal(current) {
					continue
				}
				s.logger.Info(ctx, "targets changed", slog.F("targets", next.Sorted()))
				current = next
				if !s.send(ctx, out, current) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *FileStore) send(ctx context.Context, out chan<- models.TargetSet, set models.TargetSet) bool {
	select {
	case out <- set:
		return true
	case <-ctx.Done():
		return false
	}
}
