package runspace

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceInterval = 200 * time.Millisecond

// Watcher reloads a FileResolver when its file changes.
type Watcher struct {
	resolver *FileResolver
	fsw      *fsnotify.Watcher
	log      zerolog.Logger
	stop     chan struct{}
	stopped  chan struct{}

	mu       sync.Mutex
	debounce *time.Timer
	started  bool

	// OnReload, if set, is called after every reload attempt.
	OnReload func(err error)
}

// NewWatcher creates a watcher for r's file.
func NewWatcher(r *FileResolver, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		resolver: r,
		fsw:      fsw,
		log:      log,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching. The containing directory is watched rather than
// the file, so that editors which replace the file on save are followed.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(filepath.Dir(w.resolver.Path())); err != nil {
		return err
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.loop()
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return // already stopped
	default:
	}
	close(w.stop)
	w.fsw.Close()

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.stopped
	}

	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	target := filepath.Clean(w.resolver.Path())
	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("runspaces watcher error")
		}
	}
}

// schedule reloads once the file has been quiet for debounceInterval.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceInterval, w.reload)
}

func (w *Watcher) reload() {
	err := w.resolver.Reload()
	if err != nil {
		w.log.Error().Err(err).Str("file", w.resolver.Path()).Msg("runspaces reload failed, keeping previous set")
	} else {
		w.log.Info().
			Str("file", w.resolver.Path()).
			Int("runspaces", len(w.resolver.List())).
			Msg("runspaces reloaded")
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}
