package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file on change and hands the new value to a
// callback. It does not diff the old and new config; the caller decides
// what, if anything, can be hot-swapped versus requires a restart.
type Watcher struct {
	path     string
	log      zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher starts watching path for writes/creates and begins its event
// loop in a background goroutine. Call Stop to release the underlying
// fsnotify handle.
func NewWatcher(path string, log zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	cw := &Watcher{
		path:     path,
		log:      log.With().Str("component", "config_watcher").Logger(),
		watcher:  w,
		onChange: onChange,
	}
	go cw.loop()
	return cw, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(Overrides{ConfigPath: w.path})
			if err != nil {
				w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous config")
				continue
			}
			w.log.Info().Str("path", w.path).Msg("config reloaded")
			w.onChange(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Stop releases the underlying fsnotify watch.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
