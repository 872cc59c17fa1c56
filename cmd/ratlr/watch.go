package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

const defaultDebounce = 500 * time.Millisecond

// changeWatcher reports settled changes below a set of paths.
type changeWatcher struct {
	w        *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
}

// newChangeWatcher watches each path; directories are watched recursively.
func newChangeWatcher(paths []string, debounce time.Duration, logger *zap.Logger) (*changeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &changeWatcher{w: w, debounce: debounce, logger: logger}
	for _, p := range paths {
		if err := cw.add(p); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
	}
	return cw, nil
}

func (c *changeWatcher) add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path == root {
			return c.w.Add(path)
		}
		return nil
	})
}

// Wait blocks until at least one change has been seen and no further
// change arrived for the debounce window.
func (c *changeWatcher) Wait(ctx context.Context) error {
	var (
		timer   *time.Timer
		settled <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-c.w.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New directories need their own watch.
				_ = c.add(ev.Name)
			}
			c.logger.Debug("change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(c.debounce)
				settled = timer.C
			} else {
				timer.Reset(c.debounce)
			}
		case err, ok := <-c.w.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return err
		case <-settled:
			return nil
		}
	}
}

func (c *changeWatcher) Close() error {
	return c.w.Close()
}

// watchedPaths lists the configuration file and the corpus directories of
// text providers.
func watchedPaths(configPath string, cfg *config.Config) []string {
	paths := []string{configPath}
	for _, m := range []config.ModuleConfig{cfg.SourceArtifactProvider, cfg.TargetArtifactProvider} {
		if p := m.String("path", ""); m.Name == "text" && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// watchEval runs eval once, then again after every settled change to the
// configuration or the corpora. Run failures are reported and waited out.
func watchEval(ctx context.Context, opts evalOptions, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cw, err := newChangeWatcher(watchedPaths(opts.configPath, cfg), defaultDebounce, zap.NewNop())
	if err != nil {
		return err
	}
	defer cw.Close()

	for {
		if err := runEval(ctx, opts, stdout); err != nil && ctx.Err() == nil {
			fmt.Fprintf(stderr, "run failed: %v\n", err)
		}
		fmt.Fprintln(stderr, "waiting for changes...")
		if err := cw.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
