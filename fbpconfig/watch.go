package fbpconfig

import (
	"github.com/fsnotify/fsnotify"
)

// Watch watches path for changes (it does not load it up front), pushing
// every successfully reloaded Config to onChange. A reload that fails to
// parse or validate is skipped without being reported, and watching
// continues. The returned stop function closes the underlying
// fsnotify.Watcher.
func Watch(path string, onChange func(Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue // malformed intermediate write; keep watching
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
