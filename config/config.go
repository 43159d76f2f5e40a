// Package config loads the simulator configuration: built-in defaults, then
// an optional YAML file, then ACUSIM_* environment overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/protocol"
)

// Config is the complete simulator configuration.
type Config struct {
	SamplingTime Duration     `yaml:"sampling_time"`
	StepTime     Duration     `yaml:"step_time"`
	Listen       ListenConfig `yaml:"listen"`
	Azimuth      AxisConfig   `yaml:"azimuth"`
	Elevation    AxisConfig   `yaml:"elevation"`
	CableWrap    AxisConfig   `yaml:"cable_wrap"`
	Sinks        SinksConfig  `yaml:"sinks"`
}

// ListenConfig holds the TCP addresses the simulator serves on. An empty
// address disables that listener.
type ListenConfig struct {
	Command string `yaml:"command"`
	Status  string `yaml:"status"`
	Monitor string `yaml:"monitor"`
}

// AxisConfig describes one axis. Angles are in degrees.
type AxisConfig struct {
	MotorCount       int       `yaml:"motor_count"`
	MaxVelocity      float64   `yaml:"max_velocity"`
	MaxAcceleration  float64   `yaml:"max_acceleration"`
	OperatingRange   []float64 `yaml:"operating_range"`
	StowPositions    []float64 `yaml:"stow_positions"`
	InitialPosition  float64   `yaml:"initial_position"`
	PreLimitMargin   float64   `yaml:"pre_limit_margin"`
	StowPinSelection int       `yaml:"stow_pin_selection"`
	BrakeTime        Duration  `yaml:"brake_time"`
}

// Duration is a time.Duration written in YAML either as a number of seconds
// (0.2) or as a duration string ("200ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var seconds float64
	if err := unmarshal(&seconds); err == nil {
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return fmt.Errorf("invalid duration %v", seconds)
		}
		*d = Duration(math.Round(seconds * float64(time.Second)))
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// SinksConfig configures the optional telemetry sinks.
type SinksConfig struct {
	// Interval is the minimum time between two writes to the sinks.
	Interval Duration     `yaml:"interval"`
	Influx   InfluxConfig `yaml:"influx"`
	Redis    RedisConfig  `yaml:"redis"`
}

// InfluxConfig enables the InfluxDB sink when URL is set.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// RedisConfig enables the Redis sink when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Prefix  string `yaml:"prefix"`
	Channel string `yaml:"channel"`
}

// Load returns the default configuration overlaid with the YAML file at path
// (skipped when path is empty) and the environment. Variables in a .env file
// in the working directory are added to the environment first.
func Load(path string) (*Config, error) {
	cfg := getDefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getDefaultConfig() *Config {
	d := acu.DefaultConfig()
	return &Config{
		SamplingTime: Duration(d.SamplingTime),
		StepTime:     Duration(d.StepTime),
		Listen: ListenConfig{
			Command: ":9000",
			Status:  ":9001",
			Monitor: "127.0.0.1:8502",
		},
		Azimuth:   fromAxis(d.Azimuth),
		Elevation: fromAxis(d.Elevation),
		CableWrap: fromAxis(d.CableWrap),
		Sinks: SinksConfig{
			Interval: Duration(time.Second),
			Influx: InfluxConfig{
				Org:         "w1xm",
				Bucket:      "acu.raw",
				Measurement: "acu.status",
			},
			Redis: RedisConfig{
				Prefix:  "acu",
				Channel: "acu:status",
			},
		},
	}
}

func fromAxis(a axis.Config) AxisConfig {
	return AxisConfig{
		MotorCount:       a.MotorCount,
		MaxVelocity:      a.MaxVelocity,
		MaxAcceleration:  a.MaxAcceleration,
		OperatingRange:   []float64{a.Min, a.Max},
		StowPositions:    append([]float64(nil), a.StowPositions...),
		InitialPosition:  a.InitialPosition,
		PreLimitMargin:   a.PreLimitMargin,
		StowPinSelection: a.StowPins,
		BrakeTime:        Duration(a.BrakeTime),
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	if c.StepTime <= 0 {
		return fmt.Errorf("step_time must be positive, got %v", c.StepTime)
	}
	if c.SamplingTime < c.StepTime {
		return fmt.Errorf("sampling_time %v is shorter than step_time %v", c.SamplingTime, c.StepTime)
	}
	if c.Sinks.Interval < 0 {
		return fmt.Errorf("sinks interval must not be negative, got %v", c.Sinks.Interval)
	}
	for _, a := range []struct {
		name string
		cfg  AxisConfig
	}{
		{"azimuth", c.Azimuth},
		{"elevation", c.Elevation},
		{"cable_wrap", c.CableWrap},
	} {
		if err := a.cfg.validate(); err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
	}
	return nil
}

func (a AxisConfig) validate() error {
	if a.MotorCount < 1 || a.MotorCount > axis.MaxMotors {
		return fmt.Errorf("motor_count %d out of range [1,%d]", a.MotorCount, axis.MaxMotors)
	}
	if a.MaxVelocity <= 0 {
		return fmt.Errorf("max_velocity must be positive, got %v", a.MaxVelocity)
	}
	if a.MaxAcceleration <= 0 {
		return fmt.Errorf("max_acceleration must be positive, got %v", a.MaxAcceleration)
	}
	if len(a.OperatingRange) != 2 {
		return fmt.Errorf("operating_range needs [min, max], got %v", a.OperatingRange)
	}
	min, max := a.OperatingRange[0], a.OperatingRange[1]
	if min >= max {
		return fmt.Errorf("operating_range min %v is not below max %v", min, max)
	}
	if a.InitialPosition < min || a.InitialPosition > max {
		return fmt.Errorf("initial_position %v outside operating_range", a.InitialPosition)
	}
	for _, p := range a.StowPositions {
		if p < min || p > max {
			return fmt.Errorf("stow position %v outside operating_range", p)
		}
	}
	if a.PreLimitMargin < 0 || 2*a.PreLimitMargin >= max-min {
		return fmt.Errorf("pre_limit_margin %v does not fit operating_range", a.PreLimitMargin)
	}
	if a.StowPinSelection < 0 || a.StowPinSelection > axis.MaxStowPins {
		return fmt.Errorf("stow_pin_selection %d out of range [0,%d]", a.StowPinSelection, axis.MaxStowPins)
	}
	if a.BrakeTime < 0 {
		return fmt.Errorf("brake_time must not be negative, got %v", a.BrakeTime)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	durations := []struct {
		key string
		dst *Duration
	}{
		{"ACUSIM_SAMPLING_TIME", &cfg.SamplingTime},
		{"ACUSIM_STEP_TIME", &cfg.StepTime},
		{"ACUSIM_SINK_INTERVAL", &cfg.Sinks.Interval},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = Duration(dur)
	}

	values := []struct {
		key string
		dst *string
	}{
		{"ACUSIM_COMMAND_ADDR", &cfg.Listen.Command},
		{"ACUSIM_STATUS_ADDR", &cfg.Listen.Status},
		{"ACUSIM_MONITOR_ADDR", &cfg.Listen.Monitor},
		{"ACUSIM_INFLUX_URL", &cfg.Sinks.Influx.URL},
		{"ACUSIM_INFLUX_TOKEN", &cfg.Sinks.Influx.Token},
		{"ACUSIM_REDIS_ADDR", &cfg.Sinks.Redis.Addr},
	}
	for _, s := range values {
		if v, ok := os.LookupEnv(s.key); ok {
			*s.dst = v
		}
	}

	if v := os.Getenv("ACUSIM_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACUSIM_REDIS_DB: %w", err)
		}
		cfg.Sinks.Redis.DB = db
	}
	return nil
}

// System returns the acu.Config described by c.
func (c *Config) System() acu.Config {
	d := acu.DefaultConfig()
	d.SamplingTime = time.Duration(c.SamplingTime)
	d.StepTime = time.Duration(c.StepTime)
	d.Azimuth = c.Azimuth.toAxis(protocol.Azimuth)
	d.Elevation = c.Elevation.toAxis(protocol.Elevation)
	d.CableWrap = c.CableWrap.toAxis(protocol.CableWrap)
	return d
}

func (a AxisConfig) toAxis(sub protocol.Subsystem) axis.Config {
	return axis.Config{
		Subsystem:       sub,
		MotorCount:      a.MotorCount,
		MaxVelocity:     a.MaxVelocity,
		MaxAcceleration: a.MaxAcceleration,
		Min:             a.OperatingRange[0],
		Max:             a.OperatingRange[1],
		StowPositions:   append([]float64(nil), a.StowPositions...),
		InitialPosition: a.InitialPosition,
		PreLimitMargin:  a.PreLimitMargin,
		StowPins:        a.StowPinSelection,
		BrakeTime:       time.Duration(a.BrakeTime),
	}
}
