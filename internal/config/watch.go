package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchForChanges starts a goroutine that reloads the config whenever
// its backing file is rewritten, stopping when stop is closed. A
// config error during reload is logged and the previous, still-valid
// config keeps serving — a bad edit never takes the process down.
func (c *Config) WatchForChanges(log *logrus.Entry, stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(c.path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					log.WithError(err).Error("config reload failed, keeping previous config")
					continue
				}
				log.Info("config reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watch error")
			}
		}
	}()
	return nil
}
