// Package inbox loads files dropped into a watched directory.
//
// A sweep classifies and ingests every regular file in the directory, then
// moves each one out: to the processed directory when it loaded (or matched
// no schema), to the failed directory otherwise. Sweeps are triggered by
// filesystem events, an optional cron schedule, and once at start.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"csvload/internal/detect"
	"csvload/internal/ingest"
	"csvload/internal/notify"
	"csvload/internal/schema"
)

// DefaultDebounce is how long the watcher waits after the last event before
// sweeping.
const DefaultDebounce = 500 * time.Millisecond

// Options configures an Inbox.
type Options struct {
	Dir          string `mapstructure:"dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
	FailedDir    string `mapstructure:"failed_dir"`
	// Schedule is a cron expression for periodic sweeps, e.g. "*/5 * * * *".
	// Empty disables it.
	Schedule string        `mapstructure:"schedule"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Inbox sweeps one directory.
type Inbox struct {
	opt    Options
	det    *detect.Detector
	eng    *ingest.Engine
	pub    notify.Publisher
	logger ingest.Logger
	now    func() time.Time

	sweepMu sync.Mutex
}

// New prepares the inbox directories. pub and logger may be nil.
func New(opt Options, det *detect.Detector, eng *ingest.Engine, pub notify.Publisher, logger ingest.Logger) (*Inbox, error) {
	if strings.TrimSpace(opt.Dir) == "" {
		return nil, errors.New("inbox: empty dir")
	}
	if det == nil || eng == nil {
		return nil, errors.New("inbox: detector and engine are required")
	}
	if opt.ProcessedDir == "" {
		opt.ProcessedDir = filepath.Join(opt.Dir, "processed")
	}
	if opt.FailedDir == "" {
		opt.FailedDir = filepath.Join(opt.Dir, "failed")
	}
	if opt.Debounce <= 0 {
		opt.Debounce = DefaultDebounce
	}
	for _, d := range []string{opt.Dir, opt.ProcessedDir, opt.FailedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("inbox: create %s: %w", d, err)
		}
	}
	if pub == nil {
		pub = notify.Nop{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Inbox{opt: opt, det: det, eng: eng, pub: pub, logger: logger, now: time.Now}, nil
}

// Options returns the effective options.
func (in *Inbox) Options() Options { return in.opt }

// Sweep processes every file currently in the inbox and returns one report
// per file, in directory order. Hidden files and directories are ignored.
// Only one sweep runs at a time.
func (in *Inbox) Sweep(ctx context.Context) ([]ingest.Report, error) {
	in.sweepMu.Lock()
	defer in.sweepMu.Unlock()

	entries, err := os.ReadDir(in.opt.Dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: read %s: %w", in.opt.Dir, err)
	}

	var (
		names   []string
		jobs    []ingest.FileJob
		reports = map[string]ingest.Report{}
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		path := filepath.Join(in.opt.Dir, name)
		names = append(names, name)

		sch, err := in.classify(ctx, name, path)
		if err != nil {
			reports[name] = ingest.NewReport(name, ingest.Result{Schema: schema.Unknown}, err)
			continue
		}
		jobs = append(jobs, ingest.PathJob(path, name, sch))
	}

	for _, rep := range in.eng.Batch(ctx, jobs) {
		reports[rep.Filename] = rep
	}
	if err := ctx.Err(); err != nil {
		// Leave files in place; the next sweep retries them.
		return nil, err
	}

	out := make([]ingest.Report, 0, len(names))
	for _, name := range names {
		rep := reports[name]
		in.settle(ctx, name, rep)
		out = append(out, rep)
	}
	return out, nil
}

func (in *Inbox) classify(ctx context.Context, name, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	res, err := in.det.Probe(ctx, name, f)
	if err != nil {
		return "", err
	}
	return res.Schema, nil
}

// settle moves the file out of the inbox and publishes its report.
func (in *Inbox) settle(ctx context.Context, name string, rep ingest.Report) {
	dest := in.opt.ProcessedDir
	if rep.Status == ingest.StatusError {
		dest = in.opt.FailedDir
	}
	to, err := in.move(name, dest)
	if err != nil {
		in.logger.Printf("inbox: file=%s move failed: %v", name, err)
	} else {
		in.logger.Printf("inbox: file=%s status=%s table=%s rows=%d moved=%s", name, rep.Status, rep.Schema, rep.RowsAccepted, to)
	}
	if err := in.pub.Publish(ctx, rep); err != nil {
		in.logger.Printf("inbox: file=%s publish failed: %v", name, err)
	}
}

// move renames name from the inbox into dir. An existing file of the same
// name is never overwritten; a timestamp is added instead.
func (in *Inbox) move(name, dir string) (string, error) {
	to := filepath.Join(dir, name)
	if _, err := os.Stat(to); err == nil {
		ext := filepath.Ext(name)
		to = filepath.Join(dir, fmt.Sprintf("%s.%d%s", strings.TrimSuffix(name, ext), in.now().UnixNano(), ext))
	}
	if err := os.Rename(filepath.Join(in.opt.Dir, name), to); err != nil {
		return "", err
	}
	return to, nil
}

func (in *Inbox) sweepAndLog(ctx context.Context, trigger string) {
	reps, err := in.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			in.logger.Printf("inbox: sweep trigger=%s failed: %v", trigger, err)
		}
		return
	}
	if len(reps) > 0 {
		in.logger.Printf("inbox: sweep trigger=%s files=%d", trigger, len(reps))
	}
}

// Run sweeps once, then on every debounced create/write event in the inbox
// and on the cron schedule, until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(in.opt.Dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", in.opt.Dir, err)
	}

	if in.opt.Schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(in.opt.Schedule, func() { in.sweepAndLog(ctx, "cron") }); err != nil {
			return fmt.Errorf("inbox: schedule %q: %w", in.opt.Schedule, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	in.sweepAndLog(ctx, "start")

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(in.opt.Debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			in.sweepAndLog(ctx, "watch")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Printf("inbox: watcher error: %v", err)
		}
	}
}
