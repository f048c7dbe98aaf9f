package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/metrics"
	"lipsync-studio/internal/pipeline"
)

type runOptions struct {
	image       string
	audio       string
	text        string
	static      bool
	pads        string
	out         string
	metricsFile string
}

func (c *cli) runCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one lip-sync job",
		Example: `  lipsync run --image face.jpg --audio voice.wav --out result.mp4
  lipsync run --image face.jpg --text "Hello there" --pads "0 10 0 0"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.image, "image", "", "Face image")
	flags.StringVar(&opts.audio, "audio", "", "Speech audio")
	flags.StringVar(&opts.text, "text", "", "Text to synthesize when no audio is given")
	flags.BoolVar(&opts.static, "static", true, "Use only the first frame of the face input")
	flags.StringVar(&opts.pads, "pads", "", "Face padding: top bottom left right (default from settings)")
	flags.StringVar(&opts.out, "out", "", "Copy the produced video to this path")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	cmd.MarkFlagsMutuallyExclusive("audio", "text")
	return cmd
}

func (c *cli) run(cmd *cobra.Command, opts *runOptions) error {
	rawPads := opts.pads
	if rawPads == "" {
		rawPads = c.settings.Pads
	}
	pads, err := domain.ParsePads(rawPads)
	if err != nil {
		return err
	}

	static := c.settings.StaticImage
	if cmd.Flags().Changed("static") {
		static = opts.static
	}

	req := pipeline.Request{
		ImagePath:   opts.image,
		AudioPath:   opts.audio,
		Text:        opts.text,
		StaticImage: static,
		Pads:        pads,
		OnStage: func(status domain.JobStatus) {
			fmt.Fprintf(c.stderr, "==> %s\n", status)
		},
		OnLog: func(log command.Log) {
			c.logger.Debug("command finished", slog.String("command", log.String()), slog.Int("exit_code", log.ExitCode))
		},
	}
	if err := pipeline.Validate(req); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	result, runErr := c.newPipeline(c.settings, m, c.logger).Run(ctx, req)

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
			c.logger.Warn("write metrics", slog.String("path", opts.metricsFile), slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		job := result.Job
		fmt.Fprintf(c.stderr, "job %s %s (%s): %s\n", job.ID, job.Status, job.ErrorKind, job.ErrorDetail)
		return runErr
	}

	output := result.Job.OutputPath
	if opts.out != "" {
		if err := writeArtifact(opts.out, result.Artifact.Data); err != nil {
			return err
		}
		output = opts.out
	}
	fmt.Fprintf(c.stdout, "%s\n", output)
	return nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// contextOrBackground guards commands executed without a context.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
