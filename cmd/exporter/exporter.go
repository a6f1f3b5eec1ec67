package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/Exporter/internal/batch"
	"github.com/CZERTAINLY/Exporter/internal/document"
	"github.com/CZERTAINLY/Exporter/internal/export"
	"github.com/CZERTAINLY/Exporter/internal/host"
	"github.com/CZERTAINLY/Exporter/internal/log"
	"github.com/CZERTAINLY/Exporter/internal/process"
	"github.com/CZERTAINLY/Exporter/internal/status"

	"github.com/spf13/cobra"
)

func doBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("exporter",
		slog.String("cmd", "build"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	doc, err := document.Load(args[0])
	if err != nil {
		return err
	}

	loop, err := host.NewLoop()
	if err != nil {
		return err
	}
	reporter := status.New(os.Stderr)
	defer reporter.Close()

	spawner := process.NewSpawner(process.CommandFrom(config.Processor))
	scheduler := batch.NewScheduler(loop, spawner, reporter,
		batch.WithInterval(config.Build.Interval()),
	)
	pipeline := export.NewPipeline(config.Build, scheduler, reporter)

	var buildErr error
	err = loop.Run(ctx, func() {
		buildErr = pipeline.Build(ctx, doc)
	})
	if buildErr != nil {
		return buildErr
	}
	if err != nil {
		return fmt.Errorf("running batch: %w", err)
	}
	slog.DebugContext(ctx, "batch finished", "document", doc.Path())
	return nil
}

func doOutputPath(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("exporter",
		slog.String("cmd", "output-path"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	doc, err := document.Load(args[0])
	if err != nil {
		return err
	}
	reporter := status.New(os.Stderr)
	defer reporter.Close()

	var prompter export.Prompter = export.LinerPrompter{}
	if cmd.Flags().Changed("set") {
		prompter = fixedPrompter(flagSetOutputPath)
	}
	slog.DebugContext(ctx, "editing output path", "document", doc.Path(), "output_path", doc.OutputPath())
	return export.EditOutputPath(doc, prompter, reporter)
}

// fixedPrompter answers every prompt with its own value.
type fixedPrompter string

func (p fixedPrompter) Prompt(string, string) (string, bool, error) {
	return string(p), true, nil
}
