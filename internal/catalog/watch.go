package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"modelpilot/internal/config"
)

// LoadSeedFile reads seed descriptors from a YAML, JSON or TOML file.
func LoadSeedFile(path string) ([]ModelDescriptor, error) {
	entries, err := config.LoadModels(path)
	if err != nil {
		return nil, err
	}
	return DescriptorsFromEntries(entries)
}

// WatchSeedFile reloads seeds whenever path changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up. A bad edit is logged and the previous seeds stay.
func (c *Catalog) WatchSeedFile(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}
	go func() {
		defer w.Close()
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce = time.After(100 * time.Millisecond)
				}
			case <-debounce:
				debounce = nil
				seeds, err := LoadSeedFile(abs)
				if err == nil {
					err = c.ReplaceSeeds(seeds)
				}
				if err != nil {
					c.log.Error().Err(err).Str("path", abs).Msg("seed reload failed")
					continue
				}
				c.log.Info().Str("path", abs).Int("models", len(seeds)).Msg("seed catalog reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warn().Err(err).Msg("seed watcher error")
			}
		}
	}()
	return nil
}
