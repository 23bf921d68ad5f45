package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"csvload/internal/catalog"
	"csvload/internal/detect"
	"csvload/internal/httpapi"
	"csvload/internal/inbox"
	"csvload/internal/ingest"
	"csvload/internal/schema"
	"csvload/internal/staging"
)

const (
	serverReadTimeout  = 30 * time.Second
	serverWriteTimeout = 5 * time.Minute
	serverIdleTimeout  = 2 * time.Minute
	shutdownTimeout    = 15 * time.Second
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(rf *rootFlags) *cobra.Command {
	var addr, maxUpload string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, rf, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			if maxUpload != "" {
				n, err := humanize.ParseBytes(maxUpload)
				if err != nil {
					return fmt.Errorf("--max-upload: %w", err)
				}
				a.cfg.HTTP.MaxUploadBytes = int64(n)
			}

			if err := catalog.New(a.store).Ensure(ctx); err != nil {
				return err
			}
			area, err := staging.New(a.cfg.HTTP.StagingDir, nil)
			if err != nil {
				return err
			}
			api, err := httpapi.New(httpapi.Options{
				Engine:         a.eng,
				Detector:       a.det,
				Staging:        area,
				Store:          a.store,
				Publisher:      a.pub,
				Metrics:        a.scrape,
				MaxUploadBytes: a.cfg.HTTP.MaxUploadBytes,
				Logger:         a.logger,
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:         a.cfg.HTTP.Addr,
				Handler:      api,
				ReadTimeout:  serverReadTimeout,
				WriteTimeout: serverWriteTimeout,
				IdleTimeout:  serverIdleTimeout,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			log.Printf("serve: addr=%s storage=%s staging=%s max_upload=%s",
				a.cfg.HTTP.Addr, a.cfg.Storage.Kind, area.Dir(), humanize.IBytes(uint64(a.cfg.HTTP.MaxUploadBytes)))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			log.Printf("serve: shutting down")
			return srv.Shutdown(shutCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&maxUpload, "max-upload", "", "max upload request size, e.g. 64MiB (overrides http.max_upload_bytes)")
	return cmd
}

func newDetectCommand(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "detect FILE...",
		Short: "Classify files by their header row",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(rf.output); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, rf, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rows := make([]detection, 0, len(args))
			for _, path := range args {
				rows = append(rows, detectFile(ctx, a.det, path))
			}
			return writeDetections(cmd.OutOrStdout(), rf.output, rows)
		},
	}
}

func detectFile(ctx context.Context, det *detect.Detector, path string) detection {
	d := detection{File: path, Schema: schema.Unknown}
	f, err := os.Open(path)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil {
		d.Bytes = st.Size()
	}
	res, err := det.Probe(ctx, filepath.Base(path), f)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.Schema = res.Schema
	return d
}

func newIngestCommand(rf *rootFlags) *cobra.Command {
	var tableType string

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Load files into their tables",
		Long: `Load files into their tables. Each file's table is detected from its
header unless --table is given. Files are loaded concurrently (ingest.workers)
and a failing file does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(rf.output); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, rf, true)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs := make([]ingest.FileJob, 0, len(args))
			for _, path := range args {
				name := filepath.Base(path)
				if tableType != "" {
					jobs = append(jobs, ingest.PathJob(path, name, tableType))
					continue
				}
				d := detectFile(ctx, a.det, path)
				if d.Error != "" {
					detErr := errors.New(d.Error)
					jobs = append(jobs, ingest.FileJob{Filename: name, Open: func() (io.ReadCloser, error) { return nil, detErr }})
					continue
				}
				jobs = append(jobs, ingest.PathJob(path, name, d.Schema))
			}

			reps := a.eng.Batch(ctx, jobs)
			failed := 0
			for _, rep := range reps {
				if rep.Status == ingest.StatusError {
					failed++
				}
				if err := a.pub.Publish(ctx, rep); err != nil {
					log.Printf("ingest: publish %s: %v", rep.Filename, err)
				}
			}
			if err := writeReports(cmd.OutOrStdout(), rf.output, reps); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(reps))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tableType, "table", "", "load every file into this table (orders or products) instead of detecting")
	return cmd
}

func newWatchCommand(rf *rootFlags) *cobra.Command {
	var opt inbox.Options
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load files dropped into an inbox directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, rf, true)
			if err != nil {
				return err
			}
			defer a.Close()

			o := a.cfg.Inbox
			if opt.Dir != "" {
				o.Dir = opt.Dir
			}
			if opt.Schedule != "" {
				o.Schedule = opt.Schedule
			}
			in, err := inbox.New(o, a.det, a.eng, a.pub, a.logger)
			if err != nil {
				return err
			}

			if once {
				reps, err := in.Sweep(ctx)
				if err != nil {
					return err
				}
				return writeReports(cmd.OutOrStdout(), rf.output, reps)
			}
			eff := in.Options()
			log.Printf("watch: dir=%s processed=%s failed=%s schedule=%q", eff.Dir, eff.ProcessedDir, eff.FailedDir, eff.Schedule)
			return in.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&opt.Dir, "dir", "", "inbox directory (overrides inbox.dir)")
	cmd.Flags().StringVar(&opt.Schedule, "schedule", "", "cron expression for periodic sweeps (overrides inbox.schedule)")
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")
	return cmd
}

func newDropTableCommand(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "drop-table orders|products",
		Short:     "Drop a table",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{schema.Orders, schema.Products},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, rf, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := catalog.New(a.store).DropTable(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Table '%s' dropped\n", args[0])
			return nil
		},
	}
}
