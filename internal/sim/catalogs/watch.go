package catalogs

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// BlueprintWatcher reloads a BlueprintStore when files in its directory
// change. Bursts of events within Debounce collapse into one reload.
type BlueprintWatcher struct {
	store    *BlueprintStore
	watcher  *fsnotify.Watcher
	log      *zap.Logger
	Debounce time.Duration
	// OnReload, if set, runs after every successful reload.
	OnReload func(ids []string)
}

func NewBlueprintWatcher(store *BlueprintStore, log *zap.Logger) (*BlueprintWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(store.Dir()); err != nil {
		w.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BlueprintWatcher{store: store, watcher: w, log: log, Debounce: 200 * time.Millisecond}, nil
}

// Run blocks until ctx is done, then closes the underlying watcher.
func (bw *BlueprintWatcher) Run(ctx context.Context) error {
	defer bw.watcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-bw.watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			bw.log.Debug("blueprint change", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			timer.Reset(bw.Debounce)
		case err, ok := <-bw.watcher.Errors:
			if !ok {
				return nil
			}
			bw.log.Warn("blueprint watcher", zap.Error(err))
		case <-timer.C:
			bw.reload()
		}
	}
}

func (bw *BlueprintWatcher) reload() {
	if err := bw.store.Reload(); err != nil {
		bw.log.Warn("blueprint reload rejected, keeping previous set", zap.Error(err))
		return
	}
	ids := bw.store.IDs()
	bw.log.Info("blueprints reloaded", zap.Int("count", len(ids)), zap.String("digest", bw.store.Digest()))
	if bw.OnReload != nil {
		bw.OnReload(ids)
	}
}
