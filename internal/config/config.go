// Package config resolves runtime settings from defaults, an optional config
// file, SEWERSIM_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/internal/observability"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SEWERSIM_MAX_HOURS.
const EnvPrefix = "SEWERSIM"

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved runtime configuration shared by both binaries.
type Config struct {
	// Scenario is a YAML scenario path; empty selects the built-in catchment.
	Scenario string `mapstructure:"scenario"`
	// MaxHours overrides the scenario horizon when > 0.
	MaxHours int `mapstructure:"max_hours"`

	RainDepth         RainDepthConfig `mapstructure:"rain_depth"`
	InfiltrationGamma *float64        `mapstructure:"infiltration_gamma"`
	Plant             PlantConfig     `mapstructure:"plant"`
	Overflow          OverflowConfig  `mapstructure:"overflow"`

	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Output  OutputConfig  `mapstructure:"output"`
}

// RainDepthConfig overrides the scenario's depth method when Method is set.
type RainDepthConfig struct {
	Method string  `mapstructure:"method"`
	Window int     `mapstructure:"window"`
	Lambda float64 `mapstructure:"lambda"`
}

// PlantConfig overrides individual plant thresholds.
type PlantConfig struct {
	Nominal         *float64 `mapstructure:"nominal"`
	Warning         *float64 `mapstructure:"warning"`
	Hydraulic       *float64 `mapstructure:"hydraulic"`
	RetentionBuffer *float64 `mapstructure:"retention_buffer"`
	KRainDepth      *float64 `mapstructure:"k_rain_depth"`
}

// OverflowConfig overrides the overflow capacity.
type OverflowConfig struct {
	Capacity *float64 `mapstructure:"capacity"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig is used by sim-server only.
type ServerConfig struct {
	GRPCAddr    string        `mapstructure:"grpc_addr"`
	HTTPAddr    string        `mapstructure:"http_addr"`
	Tick        time.Duration `mapstructure:"tick"`
	Accelerated bool          `mapstructure:"accelerated"`
	StartTime   string        `mapstructure:"start_time"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// OutputConfig names optional report files written by the batch simulator.
type OutputConfig struct {
	CSV     string `mapstructure:"csv"`
	GeoJSON string `mapstructure:"geojson"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scenario", "")
	v.SetDefault("max_hours", 0)
	v.SetDefault("rain_depth.method", "")
	v.SetDefault("rain_depth.window", core.DefaultRainWindow)
	v.SetDefault("rain_depth.lambda", core.DefaultRainLambda)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.http_addr", ":9090")
	v.SetDefault("server.tick", time.Second)
	v.SetDefault("server.accelerated", false)
	v.SetDefault("server.start_time", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "sewerflow-simulator")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("output.csv", "")
	v.SetDefault("output.geojson", "")
}

// BindFlags registers the common flags on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("scenario", "", "scenario YAML file (default: built-in catchment)")
	fs.Int("max-hours", 0, "simulation horizon in hours (0 keeps the scenario value)")
	fs.String("rain-depth-method", "", "rain depth method: window or reservoir")
	fs.Int("rain-window", core.DefaultRainWindow, "window length in hours for the window depth method")
	fs.Float64("rain-lambda", core.DefaultRainLambda, "decay factor for the reservoir depth method")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")

	for key, flag := range map[string]string{
		"scenario":          "scenario",
		"max_hours":         "max-hours",
		"rain_depth.method": "rain-depth-method",
		"rain_depth.window": "rain-window",
		"rain_depth.lambda": "rain-lambda",
		"log.level":         "log-level",
		"log.format":        "log-format",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// BindServerFlags registers the sim-server flags on fs and binds them to v.
func BindServerFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("grpc-addr", ":50051", "gRPC listen address")
	fs.String("http-addr", ":9090", "HTTP listen address for metrics, health and snapshots")
	fs.Duration("tick", time.Second, "wall-clock time per simulated hour")
	fs.Bool("accelerated", false, "run hours back to back instead of pacing by --tick")

	for key, flag := range map[string]string{
		"server.grpc_addr":   "grpc-addr",
		"server.http_addr":   "http-addr",
		"server.tick":        "tick",
		"server.accelerated": "accelerated",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// BindOutputFlags registers the batch simulator's report flags.
func BindOutputFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("csv", "", "write hourly results as CSV to this path")
	fs.String("geojson", "", "write the network layout as GeoJSON to this path")
	if err := v.BindPFlag("output.csv", fs.Lookup("csv")); err != nil {
		return fmt.Errorf("bind flag csv: %w", err)
	}
	if err := v.BindPFlag("output.geojson", fs.Lookup("geojson")); err != nil {
		return fmt.Errorf("bind flag geojson: %w", err)
	}
	return nil
}

// Load reads the optional config file, applies environment overrides and
// decodes v into a validated Config.
func Load(v *viper.Viper, file string) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Pointer-valued overrides have no default, so AutomaticEnv alone never
	// surfaces them during Unmarshal.
	for _, key := range []string{
		"infiltration_gamma",
		"plant.nominal", "plant.warning", "plant.hydraulic",
		"plant.retention_buffer", "plant.k_rain_depth",
		"overflow.capacity",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component could accept.
func (c *Config) Validate() error {
	if c.MaxHours < 0 {
		return fmt.Errorf("%w: max_hours must be >= 0, got %d", ErrInvalid, c.MaxHours)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}
	if c.Server.Tick < 0 {
		return fmt.Errorf("%w: server.tick must be >= 0", ErrInvalid)
	}
	if c.Server.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Server.StartTime); err != nil {
			return fmt.Errorf("%w: server.start_time must be RFC3339: %v", ErrInvalid, err)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio must be in [0,1]", ErrInvalid)
	}
	if err := c.TracingSettings().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.InfiltrationGamma != nil && *c.InfiltrationGamma < 0 {
		return fmt.Errorf("%w: infiltration_gamma must be >= 0", ErrInvalid)
	}
	return nil
}

// LoadScenario opens the configured scenario file, or returns the built-in
// catchment when none is set, and applies the configured overrides.
func (c *Config) LoadScenario() (*core.Scenario, error) {
	var sc *core.Scenario
	if c.Scenario == "" {
		sc = core.DefaultScenario()
	} else {
		f, err := os.Open(c.Scenario)
		if err != nil {
			return nil, fmt.Errorf("open scenario: %w", err)
		}
		defer f.Close()
		sc, err = core.LoadScenario(f)
		if err != nil {
			return nil, err
		}
	}
	c.Apply(sc)
	return sc, nil
}

// Apply overrides scenario settings that were configured explicitly.
func (c *Config) Apply(sc *core.Scenario) {
	if sc == nil {
		return
	}
	cfg := &sc.Config
	if c.MaxHours > 0 {
		cfg.MaxHours = c.MaxHours
	}
	if c.RainDepth.Method != "" {
		cfg.RainDepth = core.RainDepthConfig{
			Method: core.RainDepthMethod(c.RainDepth.Method),
			Window: c.RainDepth.Window,
			Lambda: c.RainDepth.Lambda,
		}
	}
	if c.InfiltrationGamma != nil {
		cfg.InfiltrationGamma = *c.InfiltrationGamma
	}
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Plant.Nominal, c.Plant.Nominal)
	set(&cfg.Plant.Warning, c.Plant.Warning)
	set(&cfg.Plant.Hydraulic, c.Plant.Hydraulic)
	set(&cfg.Plant.RetentionBuffer, c.Plant.RetentionBuffer)
	set(&cfg.Plant.KRainDepth, c.Plant.KRainDepth)
	set(&cfg.OverflowCapacity, c.Overflow.Capacity)
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// TracingSettings converts the tracing section for observability.InitTracing.
func (c *Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

// StartTime returns the configured simulation start, or the top of the
// current UTC hour.
func (c *Config) StartTime(now time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, c.Server.StartTime); err == nil {
		return t
	}
	return now.UTC().Truncate(time.Hour)
}
