package main

import (
	"errors"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"cuzk.mleku.dev"
)

type msmParams struct {
	input   string
	verify  bool
	metrics bool
}

func newMSMCommand() *cobra.Command {
	params := &msmParams{}

	cmd := &cobra.Command{
		Use:   "msm",
		Short: "Run the MSM pipeline on a JSON input file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return params.run(cmd)
		},
	}

	cmd.Flags().StringVar(&params.input, "input", "", "JSON input file")
	cmd.Flags().BoolVar(&params.verify, "verify", false, "compare the result with a serial CPU computation")
	cmd.Flags().BoolVar(&params.metrics, "metrics", false, "log per-stage timings")
	registerConfigFlags(cmd)

	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func (p *msmParams) run(cmd *cobra.Command) error {
	logger := newLogger(cmd)

	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	var sink *metrics.InmemSink
	if p.metrics {
		sink = metrics.NewInmemSink(time.Minute, time.Minute)
		conf := metrics.DefaultConfig("cuzk")
		conf.EnableHostname = false
		conf.EnableRuntimeMetrics = false

		if _, err := metrics.NewGlobal(conf, sink); err != nil {
			return err
		}
	}

	in, err := readInputFile(p.input)
	if err != nil {
		return err
	}

	points, scalars, err := in.decode()
	if err != nil {
		return err
	}

	curve := cuzk.EdBLS12377()

	pipeline, err := cuzk.NewPipeline(curve, cfg, cuzk.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := pipeline.Precompile(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()

	res, err := pipeline.MSM(ctx, points, scalars)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	logger.Info("msm complete", "n", len(points), "elapsed", elapsed)

	out := resultJSON{
		X:       res.X.String(),
		Y:       res.Y.String(),
		N:       len(points),
		Elapsed: elapsed.String(),
	}

	if p.verify {
		want, err := cuzk.NaiveMSM(curve, points, scalars)
		if err != nil {
			return err
		}

		if !want.Equal(res) {
			return errors.New("msm result differs from the serial computation")
		}

		out.Verified = true
	}

	if sink != nil {
		logStageMetrics(logger, sink)
	}

	return writeJSON(cmd.OutOrStdout(), out)
}

// logStageMetrics logs the timing samples collected during the run.
func logStageMetrics(logger hclog.Logger, sink *metrics.InmemSink) {
	for _, interval := range sink.Data() {
		names := make([]string, 0, len(interval.Samples))
		for name := range interval.Samples {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			agg := interval.Samples[name].AggregateSample
			if agg == nil {
				continue
			}
			logger.Info("timing", "metric", name, "count", agg.Count, "mean_ms", agg.Mean(), "max_ms", agg.Max)
		}
	}
}
