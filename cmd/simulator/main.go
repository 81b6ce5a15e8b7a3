// Command simulator runs a catchment scenario to its horizon and reports
// the result. Hourly results can be exported as CSV and the network layout
// as GeoJSON.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/config"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/internal/observability"
	"github.com/signalsfoundry/sewerflow-simulator/internal/report"
	sim "github.com/signalsfoundry/sewerflow-simulator/internal/sim/state"
	"github.com/signalsfoundry/sewerflow-simulator/timectrl"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	cmd, err := newRootCmd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, error) {
	v := viper.New()
	config.SetDefaults(v)
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "simulator",
		Short:        "Simulate hourly sewer flows through a catchment to the treatment plant",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging())
			return run(cmd.Context(), cfg, log, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	if err := config.BindOutputFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return cmd, nil
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tracing := cfg.TracingSettings()
	tracing.Component = "simulator"
	shutdown, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	sc, err := cfg.LoadScenario()
	if err != nil {
		return err
	}

	metrics, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	clock := timectrl.NewTimeController(cfg.StartTime(time.Now()), 0, timectrl.Accelerated)
	events := report.NewLogSink(log, false)

	engine, err := sc.NewEngine(
		core.WithLogger(log),
		core.WithClock(clock),
		core.WithObserver(metrics),
		core.WithObserver(events),
		core.WithMissingMeanRecorder(metrics),
	)
	if err != nil {
		return err
	}
	state := sim.NewRunState(engine, sc.Sites, log, sim.WithMetricsRecorder(metrics))
	defer state.Close()
	ctx = logging.ContextWithRunID(ctx, state.RunID())

	log.Info(ctx, "running scenario",
		logging.String("scenario", scenarioName(sc)),
		logging.Int("nodes", len(engine.Topology().Nodes())),
		logging.Int("hours", engine.MaxHours()))

	runErr := state.Run(ctx, clock)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if err := writeOutputs(cfg.Output, state); err != nil {
		return err
	}

	sum := state.Summary()
	log.Info(ctx, "simulation finished",
		logging.Int("hours", sum.Hours),
		logging.Int("overflow_hours", sum.OverflowHours),
		logging.Float("diverted_volume", sum.DivertedVolume),
		logging.Float("undischarged_volume", sum.UndischargedVolume),
		logging.Float("peak_plant_inflow", sum.PeakPlantInflow),
		logging.Int("peak_plant_hour", sum.PeakPlantHour))
	if err := printSummary(out, sum); err != nil {
		return err
	}
	return runErr
}

func scenarioName(sc *core.Scenario) string {
	if sc.Name == "" {
		return "unnamed"
	}
	return sc.Name
}

func writeOutputs(cfg config.OutputConfig, state *sim.RunState) error {
	if cfg.CSV != "" {
		if err := writeFile(cfg.CSV, func(w io.Writer) error {
			return report.WriteCSV(w, state.History(1, 0))
		}); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if cfg.GeoJSON != "" {
		snap, _ := state.Latest()
		if err := writeFile(cfg.GeoJSON, func(w io.Writer) error {
			raw, err := report.NetworkLayer(state.Topology(), state.Sites(), snap).MarshalJSON()
			if err != nil {
				return err
			}
			_, err = w.Write(raw)
			return err
		}); err != nil {
			return fmt.Errorf("write geojson: %w", err)
		}
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printSummary(out io.Writer, sum sim.Summary) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "hours\t%d\n", sum.Hours)
	fmt.Fprintf(tw, "overflow active\t%d h\n", sum.OverflowHours)
	fmt.Fprintf(tw, "diverted volume\t%.1f m3\n", sum.DivertedVolume)
	fmt.Fprintf(tw, "undischarged volume\t%.1f m3\n", sum.UndischargedVolume)
	fmt.Fprintf(tw, "peak plant inflow\t%.1f m3/h (hour %d)\n", sum.PeakPlantInflow, sum.PeakPlantHour)

	regimes := make([]string, 0, len(sum.RegimeHours))
	for r := range sum.RegimeHours {
		regimes = append(regimes, r)
	}
	sort.Strings(regimes)
	for _, r := range regimes {
		fmt.Fprintf(tw, "regime %s\t%d h\n", r, sum.RegimeHours[r])
	}

	fmt.Fprintln(tw, "\nnode\tpeak flow\tpeak hour\talert hours\tvolume")
	for _, n := range sum.Nodes {
		fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\t%.1f\n", n.NodeID, n.PeakFlow, n.PeakHour, n.AlertHours, n.Volume)
	}
	return tw.Flush()
}
