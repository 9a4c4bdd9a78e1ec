package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch monitors the .env file for changes and invokes onChange (debounced)
// when it is created, rewritten, or replaced. The same callback is shared
// with the SIGHUP reload path in the binary. Returns once ctx is done.
func Watch(ctx context.Context, envFile string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the parent directory: editors and orchestrators replace the
	// file, which would otherwise drop the watch.
	dir := filepath.Dir(envFile)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Debug().Str("file", envFile).Msg("Watching env file for changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(envFile) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				log.Info().Str("file", envFile).Msg("Env file changed, reloading")
				onChange()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Env file watcher error")
		}
	}
}
