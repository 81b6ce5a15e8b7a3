// Command sim-server paces a catchment simulation in simulated hours and
// serves its state over gRPC and HTTP until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/config"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/internal/nbi"
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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
		Use:          "sim-server",
		Short:        "Serve a paced sewer flow simulation over gRPC and HTTP",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging())

			grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return fmt.Errorf("listen grpc %s: %w", cfg.Server.GRPCAddr, err)
			}
			httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
			if err != nil {
				_ = grpcLis.Close()
				return fmt.Errorf("listen http %s: %w", cfg.Server.HTTPAddr, err)
			}
			return run(cmd.Context(), cfg, log, grpcLis, httpLis)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	if err := config.BindServerFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return cmd, nil
}

// run serves until ctx is cancelled. The simulation stops at its horizon
// but the servers stay up so the recorded hours remain readable.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, grpcLis, httpLis net.Listener) error {
	tracing := cfg.TracingSettings()
	tracing.Component = "sim-server"
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	sc, err := cfg.LoadScenario()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return err
	}
	apiMetrics, err := observability.NewAPICollector(reg)
	if err != nil {
		return err
	}

	mode := timectrl.RealTime
	if cfg.Server.Accelerated {
		mode = timectrl.Accelerated
	}
	clock := timectrl.NewTimeController(cfg.StartTime(time.Now()), cfg.Server.Tick, mode)

	engine, err := sc.NewEngine(
		core.WithLogger(log),
		core.WithClock(clock),
		core.WithObserver(simMetrics),
		core.WithObserver(report.NewLogSink(log, false)),
		core.WithMissingMeanRecorder(simMetrics),
	)
	if err != nil {
		return err
	}
	state := sim.NewRunState(engine, sc.Sites, log, sim.WithMetricsRecorder(simMetrics))
	defer state.Close()
	ctx = logging.ContextWithRunID(ctx, state.RunID())

	grpcServer, health := nbi.NewGRPCServer(state, log, apiMetrics)
	httpServer := &http.Server{
		Handler: nbi.NewRouter(nbi.RouterConfig{
			Simulation: state,
			Logger:     log,
			Collector:  apiMetrics,
			Metrics:    apiMetrics.Handler(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 2)
	go func() {
		log.Info(ctx, "serving gRPC", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcServer.Serve(grpcLis); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info(ctx, "serving HTTP", logging.String("addr", httpLis.Addr().String()))
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- state.Run(ctx, clock) }()

	var result error
	select {
	case <-ctx.Done():
	case result = <-serveErr:
		log.Error(ctx, "server exited", logging.Err(result))
	}

	log.Info(ctx, "shutting down")
	_ = state.Stop()
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()

	if err := <-runDone; err != nil && !errors.Is(err, sim.ErrTerminated) && !errors.Is(err, context.Canceled) && result == nil {
		result = err
	}
	return result
}
