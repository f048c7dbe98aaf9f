package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/metrics"
)

func (c *cli) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Install the codec and fetch the inference code and weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New(prometheus.NewRegistry())
			results, err := c.newPipeline(c.settings, m, c.logger).Prepare(ctx)
			for _, result := range results {
				fmt.Fprintf(c.stdout, "%-8s %s (%d bytes)\n", acquisitionState(result), result.Asset.LocalPath, result.Bytes)
			}
			return err
		},
	}
}

// acquisitionState labels one result. Only verified assets are marked
// present, so anything else stopped the run.
func acquisitionState(result domain.AcquisitionResult) string {
	switch {
	case !result.Asset.Present:
		return "failed"
	case result.Fetched:
		return "fetched"
	default:
		return "cached"
	}
}
