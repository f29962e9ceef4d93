package staging

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	retryBaseDelay = 5 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// Watcher calls a trigger function once changes in the staging directory
// have settled for the debounce delay. After a failed trigger, further runs
// wait out an exponential backoff, so files a failed run puts back into the
// directory do not retrigger it in a tight loop.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *log.Logger
	trigger func() error

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration
	retryBase    time.Duration
	retryMax     time.Duration
	backoff      time.Duration
	holdUntil    time.Time

	// fireMu keeps triggers from overlapping and lets Close wait for one
	// that is still running.
	fireMu sync.Mutex

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewWatcher starts watching dir. trigger runs on its own goroutine, never
// concurrently with itself.
func NewWatcher(dir string, debounce time.Duration, trigger func() error, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Default()
	}

	w := &Watcher{
		dir:          dir,
		watcher:      fsw,
		logger:       logger,
		trigger:      trigger,
		refreshDelay: debounce,
		retryBase:    retryBaseDelay,
		retryMax:     retryMaxDelay,
		done:         make(chan struct{}),
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Close stops the watcher and waits for a running trigger to return.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)

		w.refreshMu.Lock()
		if w.refreshTimer != nil {
			w.refreshTimer.Stop()
			w.refreshTimer = nil
		}
		w.refreshMu.Unlock()

		w.closeErr = w.watcher.Close()
		w.wg.Wait()

		w.fireMu.Lock()
		w.fireMu.Unlock()
	})
	return w.closeErr
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		w.scheduleTrigger()
	}
}

func (w *Watcher) scheduleTrigger() {
	w.scheduleAfter(0)
}

// scheduleAfter (re)arms the trigger timer for the debounce delay, the
// remaining backoff or atLeast, whichever is longest.
func (w *Watcher) scheduleAfter(atLeast time.Duration) {
	select {
	case <-w.done:
		return
	default:
	}

	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	delay := w.refreshDelay
	if atLeast > delay {
		delay = atLeast
	}
	if hold := time.Until(w.holdUntil); hold > delay {
		delay = hold
	}

	if w.refreshTimer != nil {
		w.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		w.fire()

		w.refreshMu.Lock()
		if w.refreshTimer == timer {
			w.refreshTimer = nil
		}
		w.refreshMu.Unlock()
	})

	w.refreshTimer = timer
}

func (w *Watcher) fire() {
	w.fireMu.Lock()
	defer w.fireMu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	w.refreshMu.Lock()
	hold := time.Until(w.holdUntil)
	w.refreshMu.Unlock()
	if hold > 0 {
		w.scheduleAfter(hold)
		return
	}

	err := w.trigger()

	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()
	if err == nil {
		w.backoff = 0
		w.holdUntil = time.Time{}
		return
	}
	switch {
	case w.backoff == 0:
		w.backoff = w.retryBase
	case w.backoff < w.retryMax:
		w.backoff *= 2
	}
	if w.backoff > w.retryMax {
		w.backoff = w.retryMax
	}
	w.holdUntil = time.Now().Add(w.backoff)
	w.logger.Printf("run failed; next run no sooner than %s", w.backoff)
}
