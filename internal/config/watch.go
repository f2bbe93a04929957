package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "raidbot/pkg/logx"
)

const (
	watchDebounce       = 250 * time.Millisecond
	watchBackoffBase    = 250 * time.Millisecond
	watchBackoffMax     = 5 * time.Second
	watchedOps          = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	overflowErrFragment = "overflow"
)

// WatchFile calls onChange (debounced) whenever the file at path is written,
// created, renamed or removed. It watches the parent directory so editors that
// replace the file atomically are seen. The watcher is recreated with jittered
// backoff when fsnotify breaks. Returns nil when ctx is canceled.
func WatchFile(ctx context.Context, path string, log logx.Logger, onChange func()) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	log = log.With(logx.String("path", path))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := watchBackoffBase
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, watchBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("file watch init failed", logx.Err(err))
			if !sleep() {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			log.Warn("file watch add failed", logx.Err(err), logx.String("dir", dir))
			if !sleep() {
				return nil
			}
			continue
		}
		backoff = watchBackoffBase
		log.Debug("file watcher started")

		broken := watchLoop(ctx, w, file, log, trigger)
		_ = w.Close()
		if !broken || ctx.Err() != nil {
			return nil
		}
		log.Warn("file watcher stopped; restarting")
		if !sleep() {
			return nil
		}
	}
	return nil
}

// watchLoop pumps events until ctx ends (false) or the watcher breaks (true).
func watchLoop(ctx context.Context, w *fsnotify.Watcher, file string, log logx.Logger, trigger func()) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&watchedOps != 0 {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, overflowErrFragment) {
				// Events may have been missed; reload once.
				log.Warn("file watch overflow; forcing reload", logx.Err(err))
				trigger()
				continue
			}
			log.Warn("file watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return true
			}
		}
	}
}
