package config

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DirWatcher polls a directory of YAML data packs (guardrail rules,
// filler phrases) and calls a callback with the path and content of each
// file whose SHA-256 changed. New files fire on the first poll after they
// appear; the initial directory contents fire synchronously from
// [NewDirWatcher] so the caller starts from a loaded state.
type DirWatcher struct {
	dir      string
	interval time.Duration
	onChange func(path string, data []byte)

	mu       sync.Mutex
	hashes   map[string][sha256.Size]byte
	done     chan struct{}
	stopOnce sync.Once
}

// NewDirWatcher starts watching dir for *.yaml and *.yml changes. The dir
// may not exist yet; it is re-checked every poll. interval <= 0 selects
// the default 5 seconds. onChange runs on the watcher goroutine, so it
// must not block for long.
func NewDirWatcher(dir string, interval time.Duration, onChange func(path string, data []byte)) *DirWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w := &DirWatcher{
		dir:      dir,
		interval: interval,
		onChange: onChange,
		hashes:   make(map[string][sha256.Size]byte),
		done:     make(chan struct{}),
	}
	w.scan()
	go w.poll()
	return w
}

// Stop stops the directory watcher.
func (w *DirWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *DirWatcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan hashes every pack file and fires the callback for changed ones.
func (w *DirWatcher) scan() {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(w.dir, pattern))
		if err != nil {
			continue
		}
		paths = append(paths, matches...)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("data pack unreadable", "path", path, "err", err)
			continue
		}
		hash := sha256.Sum256(data)

		w.mu.Lock()
		prev, seen := w.hashes[path]
		changed := !seen || prev != hash
		if changed {
			w.hashes[path] = hash
		}
		w.mu.Unlock()

		if changed && w.onChange != nil {
			w.onChange(path, data)
		}
	}
}
