// Package watch monitors the results directory for finished task
// artifacts and hands each new one to the notification router.
package watch

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/InstruktAI/TeleClaude-sub007/internal/router"
)

// maxSummaryLen caps the artifact excerpt carried into a notification.
const maxSummaryLen = 200

// Notifier receives a routed result. Satisfied by *router.Router.
type Notifier interface {
	NotifyResult(job string, category router.Category, artifactPath, renderedText string) ([]string, error)
}

// Watcher observes one results directory. Each file is a task result
// artifact named <job>.md or <job>.json; a write to one marks the job
// finished. Rapid events on the same artifact are coalesced before the
// router sees them.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	notifier Notifier
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Watcher over dir, creating the directory if needed.
// Call Start in a goroutine and Stop to shut down.
func New(dir string, notifier Notifier, debounce time.Duration) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		watcher:  fsw,
		notifier: notifier,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start watches the directory until Stop is called. Artifacts already
// present at startup are routed once before live events are processed;
// the router's watermark keeps already-notified ones silent.
func (w *Watcher) Start() {
	if err := w.watcher.Add(w.dir); err != nil {
		slog.Warn("result watcher add failed", "dir", w.dir, "error", err)
		return
	}

	w.routeExisting()

	var debounceTimer *time.Timer
	pending := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !artifactFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				pendingMu.Lock()
				files := make([]string, 0, len(pending))
				for f := range pending {
					files = append(files, f)
				}
				pending = make(map[string]bool)
				pendingMu.Unlock()

				for _, f := range files {
					w.route(f)
				}
			})
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("result watcher error", "error", err)
		}
	}
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

func (w *Watcher) routeExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !artifactFile(entry.Name()) {
			continue
		}
		w.route(filepath.Join(w.dir, entry.Name()))
	}
}

// route hands one artifact to the router. The router's unseen check and
// idempotency key make double routing harmless.
func (w *Watcher) route(path string) {
	job := jobName(path)
	text := renderSummary(job, path)
	ids, err := w.notifier.NotifyResult(job, router.CategorySubscription, path, text)
	if err != nil {
		slog.Warn("routing result artifact failed", "job", job, "path", path, "error", err)
		return
	}
	if len(ids) > 0 {
		slog.Info("result artifact routed", "job", job, "enqueued", len(ids))
	}
}

func artifactFile(path string) bool {
	switch filepath.Ext(path) {
	case ".md", ".json":
		return true
	default:
		return false
	}
}

// jobName derives the job from the artifact filename.
func jobName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// renderSummary builds the notification text: the job name plus the
// first non-empty line of the artifact, truncated.
func renderSummary(job, path string) string {
	excerpt := firstLine(path)
	if excerpt == "" {
		return "Task " + job + " finished."
	}
	return "Task " + job + " finished: " + excerpt
}

func firstLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "# ")
		if len(line) > maxSummaryLen {
			line = line[:maxSummaryLen]
		}
		return line
	}
	return ""
}
