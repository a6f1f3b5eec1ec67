package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CZERTAINLY/Exporter/internal/batch"
	"github.com/CZERTAINLY/Exporter/internal/document"
	"github.com/CZERTAINLY/Exporter/internal/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const messageTimeout = 5 * time.Second

var (
	ErrNoRoot       = errors.New("project root not found")
	ErrNoOutputPath = errors.New("output path not specified")
	ErrNotDirectory = errors.New("output path is not a directory")
	ErrScratchDir   = errors.New("could not make temporary directory")
	ErrMaterialize  = errors.New("could not export artifact")
	ErrOutsideDir   = errors.New("file name leaves the scratch directory")
	ErrInternal     = errors.New("internal error")
)

// Document is the part of document.Document the pipeline uses.
type Document interface {
	Dir() string
	OutputPath() string
	Exports() []document.Request
	Save(ctx context.Context, req document.Request, dst string) error
}

type Scheduler interface {
	Busy() bool
	Start(ctx context.Context, b batch.Batch) error
}

// Pipeline turns a document into a batch: it resolves the output directory,
// materializes every export request into a fresh scratch directory and
// hands the jobs to the scheduler, which owns the scratch directory from then on.
type Pipeline struct {
	cfg       model.Build
	scheduler Scheduler
	reporter  batch.Reporter
}

func NewPipeline(cfg model.Build, scheduler Scheduler, reporter batch.Reporter) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		scheduler: scheduler,
		reporter:  reporter,
	}
}

// Build starts a batch for doc. Problems with the project layout are shown
// as a status message and returned. A busy scheduler or a document without
// exports is a silent no-op.
func (p *Pipeline) Build(ctx context.Context, doc Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "build panicked", "panic", r)
			p.show(fmt.Sprintf("Internal Error: %v", r))
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	marker := p.cfg.RootMarker()
	root, err := FindRoot(doc.Dir(), marker)
	if err != nil {
		p.show(fmt.Sprintf("Error: document is not in a %s repository", strings.TrimPrefix(marker, ".")))
		return err
	}

	outputPath := doc.OutputPath()
	if outputPath == "" {
		p.show("Error: Output path not specified")
		return ErrNoOutputPath
	}

	outputDir := filepath.Join(root, filepath.FromSlash(outputPath))
	if !isDirectory(outputDir) {
		p.show(fmt.Sprintf("Error: %q is not a directory", outputDir))
		return fmt.Errorf("%w: %s", ErrNotDirectory, outputDir)
	}

	if p.scheduler.Busy() {
		slog.DebugContext(ctx, "batch already running: ignoring build")
		return nil
	}

	requests := doc.Exports()
	if len(requests) == 0 {
		slog.DebugContext(ctx, "document has no exports: ignoring build")
		return nil
	}

	scratchDir, err := p.makeScratchDir()
	if err != nil {
		slog.ErrorContext(ctx, "creating scratch dir failed", "error", err)
		p.show("Error: Could not make temporary directory")
		return fmt.Errorf("%w: %w", ErrScratchDir, err)
	}

	jobs, err := p.materialize(ctx, doc, requests, scratchDir, outputDir)
	if err != nil {
		removeScratchDir(ctx, scratchDir)
		return err
	}

	err = p.scheduler.Start(ctx, batch.Batch{Jobs: jobs, ScratchDir: scratchDir})
	switch {
	case errors.Is(err, batch.ErrBusy), errors.Is(err, batch.ErrEmptyBatch):
		// the scheduler never took ownership
		removeScratchDir(ctx, scratchDir)
		return nil
	case err != nil:
		removeScratchDir(ctx, scratchDir)
		return err
	}
	return nil
}

func (p *Pipeline) makeScratchDir() (string, error) {
	base := p.cfg.ScratchDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// materialize writes every request into scratchDir, keeping the request order
// in the returned jobs.
func (p *Pipeline) materialize(ctx context.Context, doc Document, requests []document.Request, scratchDir, outputDir string) ([]model.Job, error) {
	jobs := make([]model.Job, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Limit())
	for idx, req := range requests {
		tmpFile := filepath.Join(scratchDir, req.FileName())
		jobs[idx] = model.Job{SourcePath: tmpFile, OutputPath: outputDir}
		g.Go(func() error {
			if filepath.Dir(tmpFile) != filepath.Clean(scratchDir) {
				return &MaterializeError{Name: req.Name, Err: fmt.Errorf("%w: %s", ErrOutsideDir, req.FileName())}
			}
			if err := doc.Save(gctx, req, tmpFile); err != nil {
				return &MaterializeError{Name: req.Name, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "materializing artifacts failed", "error", err)
		var me *MaterializeError
		if errors.As(err, &me) {
			p.show(fmt.Sprintf("Error: Could not export %q", me.Name))
		} else {
			p.show("Error: Could not export artifacts")
		}
		return nil, err
	}
	slog.DebugContext(ctx, "artifacts materialized", "count", len(jobs), "scratch_dir", scratchDir)
	return jobs, nil
}

// MaterializeError reports the artifact that could not be written.
type MaterializeError struct {
	Name string
	Err  error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("%s %q: %v", ErrMaterialize, e.Name, e.Err)
}

func (e *MaterializeError) Unwrap() []error {
	return []error{ErrMaterialize, e.Err}
}

func (p *Pipeline) show(msg string) {
	if p.reporter == nil {
		return
	}
	p.reporter.Display(msg, messageTimeout)
}

func removeScratchDir(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.DebugContext(ctx, "removing scratch dir failed: ignoring", "scratch_dir", dir, "error", err)
	}
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
