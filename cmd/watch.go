package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"deployaudit/internal/console"
	"deployaudit/internal/engine"
	"deployaudit/internal/walker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the file checkers and the plan whenever the tree changes",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// watchLoop debounces filesystem events and runs one audit per quiet period.
// Runs happen on the loop goroutine, so they never overlap.
type watchLoop struct {
	debounce time.Duration
	skip     func(path string) bool
	addDir   func(path string) error
	run      func(ctx context.Context)
	warn     func(format string, args ...any)
}

func (l watchLoop) serve(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if l.skip != nil && l.skip(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) && l.addDir != nil {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := l.addDir(ev.Name); err != nil && l.warn != nil {
						l.warn("watch %s: %v", ev.Name, err)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else {
				timer.Reset(l.debounce)
			}
			fire = timer.C
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if l.warn != nil {
				l.warn("watch error: %v", err)
			}
		case <-fire:
			fire = nil
			l.run(ctx)
		}
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	p := console.Stdout()
	e, err := engine.New(cfg, func(r engine.Result) {
		p.Report(r.Report, r.Path, r.Elapsed)
	})
	if err != nil {
		return err
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return err
	}
	out, err := filepath.Abs(cfg.OutputPath())
	if err != nil {
		return err
	}
	scanner := walker.New(root, walker.Options{Ignore: cfg.Scan.Ignore})
	skip := func(path string) bool {
		if within(out, path) {
			return true
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return true
		}
		return scanner.Ignored(rel)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init: %w", err)
	}
	defer w.Close()
	dirs, err := scanner.Dirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if within(out, d) {
			continue
		}
		if err := w.Add(d); err != nil {
			p.Warn("watch %s: %v", d, err)
		}
	}

	audit := func(ctx context.Context) {
		p.Title(fmt.Sprintf("Auditing %s (%s)", root, time.Now().Format(time.TimeOnly)))
		_, stats, err := e.Run(ctx, e.FileCategories()...)
		if err != nil {
			p.Warn("%v", err)
			return
		}
		p.Totals(stats.Categories, stats.Findings, stats.Failed, stats.BySeverity)
		plan, path, err := synthesize(e, cfg, p)
		if err != nil {
			p.Warn("%v", err)
			return
		}
		p.Info("%d remediation items written to %s", len(plan.Items), path)
	}
	audit(ctx)
	p.Info("watching %d directories, Ctrl+C to stop", len(dirs))

	loop := watchLoop{
		debounce: cfg.Watch.Debounce,
		skip:     skip,
		addDir:   w.Add,
		run:      audit,
		warn:     p.Warn,
	}
	return loop.serve(ctx, w.Events, w.Errors)
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
