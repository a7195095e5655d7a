package config

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the run-mode config file and logs a restart-required
// notice when the credentials change on disk. Token and store credentials
// are read once at startup; picking them up live would mean re-dialing the
// gateway mid-session, which is not worth the complexity for a bot that
// restarts in seconds.
//
// Blocks until ctx is canceled. A missing config file (env-only setups) is
// not an error; the watcher simply exits.
func Watch(ctx context.Context, cfg *Config) error {
	path := cfg.ConfigFile()
	if _, err := os.Stat(path); err != nil {
		log.Printf("config: no %s to watch, skipping watcher", path)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode goes quiet.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			fresh, err := Load()
			if err != nil {
				log.Printf("config: %s changed but no longer loads: %v", path, err)
				continue
			}
			if fresh.Discord.Token != cfg.Discord.Token || fresh.RedisURL() != cfg.RedisURL() {
				log.Printf("config: credentials in %s changed, restart poucet to apply them", path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
