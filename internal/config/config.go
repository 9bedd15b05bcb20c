// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tathienbao/fillsim/internal/alerting"
	"github.com/tathienbao/fillsim/internal/backtest"
	"github.com/tathienbao/fillsim/internal/execution"
	"github.com/tathienbao/fillsim/internal/metrics"
	"github.com/tathienbao/fillsim/internal/stop"
	"github.com/tathienbao/fillsim/internal/strategy"
	"github.com/tathienbao/fillsim/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Stops      StopsConfig      `yaml:"stops"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig holds fill simulator settings.
type SimulationConfig struct {
	FillOnQuote   bool             `yaml:"fill_on_quote"`
	FillOnTrade   bool             `yaml:"fill_on_trade"`
	FillOnBar     bool             `yaml:"fill_on_bar"`
	QuoteFillMode string           `yaml:"quote_fill_mode"` // last | next
	TradeFillMode string           `yaml:"trade_fill_mode"` // last | next
	BarFillMode   string           `yaml:"bar_fill_mode"`   // last_bar_close | next_bar_close | next_bar_open
	PartialFills  bool             `yaml:"partial_fills"`
	BarFilter     []BarSpecConfig  `yaml:"bar_filter"`
	Commission    CommissionConfig `yaml:"commission"`
	SlippageTicks int              `yaml:"slippage_ticks"`
	TickSize      float64          `yaml:"tick_size"` // Zero uses the instrument's tick size
}

// BarSpecConfig names a bar series.
type BarSpecConfig struct {
	Type string `yaml:"type"`
	Size int64  `yaml:"size"`
}

// CommissionConfig holds commission settings.
type CommissionConfig struct {
	Type   string  `yaml:"type"` // none | per_unit | percent | absolute
	Amount float64 `yaml:"amount"`
}

// StopsConfig holds the options every position stop is created with.
type StopsConfig struct {
	TraceOnBar     bool   `yaml:"trace_on_bar"`
	TraceOnBarOpen bool   `yaml:"trace_on_bar_open"`
	TraceOnTrade   bool   `yaml:"trace_on_trade"`
	TraceOnQuote   bool   `yaml:"trace_on_quote"`
	TrailOnOpen    bool   `yaml:"trail_on_open"`
	TrailOnHighLow bool   `yaml:"trail_on_high_low"`
	FilterBarSize  int64  `yaml:"filter_bar_size"` // Negative accepts every bar
	FilterBarType  string `yaml:"filter_bar_type"`
	FillMode       string `yaml:"fill_mode"` // market | close | stop
}

// BacktestConfig holds replay settings.
type BacktestConfig struct {
	Symbol          string  `yaml:"symbol"`
	Data            string  `yaml:"data"` // CSV or SQLite path; overridden by --data
	BarType         string  `yaml:"bar_type"`
	BarSizeSec      int64   `yaml:"bar_size_sec"`
	InitialEquity   float64 `yaml:"initial_equity"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	Start           string  `yaml:"start"`
	End             string  `yaml:"end"`
}

// StrategyConfig holds strategy and position stop settings.
type StrategyConfig struct {
	Name           string  `yaml:"name"`
	LookbackBars   int     `yaml:"lookback_bars"`
	BreakoutBuffer float64 `yaml:"breakout_buffer"`
	Quantity       float64 `yaml:"quantity"`
	FillMode       string  `yaml:"fill_mode"` // Bar fill mode of strategy orders; empty uses the simulator's
	StopType       string  `yaml:"stop_type"` // fixed | trailing; empty for none
	StopMode       string  `yaml:"stop_mode"` // absolute | percent
	StopLevel      float64 `yaml:"stop_level"`
	TimeLimitMin   int     `yaml:"time_limit_min"` // Time stop after entry; zero for none
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled bool     `yaml:"enabled"`
	Events  []string `yaml:"events"` // Empty enables every event
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			FillOnQuote:   true,
			FillOnTrade:   true,
			FillOnBar:     true,
			QuoteFillMode: "last",
			TradeFillMode: "last",
			BarFillMode:   "last_bar_close",
			Commission:    CommissionConfig{Type: "none"},
		},
		Stops: StopsConfig{
			TraceOnBar:     true,
			TraceOnBarOpen: true,
			TraceOnTrade:   true,
			TraceOnQuote:   true,
			FilterBarSize:  -1,
			FilterBarType:  "time",
			FillMode:       "market",
		},
		Backtest: BacktestConfig{
			BarType:       "time",
			BarSizeSec:    60,
			InitialEquity: 10000,
		},
		Strategy: StrategyConfig{
			Name:         "breakout",
			LookbackBars: 20,
			Quantity:     1,
			StopMode:     "absolute",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment variables
// are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
		}
	}

	// Simulation
	_, err := execution.ParseQuoteFillMode(c.Simulation.QuoteFillMode)
	check("simulation.quote_fill_mode", err)
	_, err = execution.ParseTradeFillMode(c.Simulation.TradeFillMode)
	check("simulation.trade_fill_mode", err)
	if mode, err := types.ParseFillMode(c.Simulation.BarFillMode); err != nil {
		check("simulation.bar_fill_mode", err)
	} else if mode == types.FillModeDefault {
		errs = append(errs, "simulation.bar_fill_mode must name a fill mode")
	}
	for i, spec := range c.Simulation.BarFilter {
		_, err = types.ParseBarType(spec.Type)
		check(fmt.Sprintf("simulation.bar_filter[%d].type", i), err)
		if spec.Size <= 0 {
			errs = append(errs, fmt.Sprintf("simulation.bar_filter[%d].size must be positive", i))
		}
	}
	_, err = types.ParseCommType(c.Simulation.Commission.Type)
	check("simulation.commission.type", err)
	if c.Simulation.Commission.Amount < 0 {
		errs = append(errs, "simulation.commission.amount must not be negative")
	}
	if c.Simulation.SlippageTicks < 0 {
		errs = append(errs, "simulation.slippage_ticks must not be negative")
	}
	if c.Simulation.TickSize < 0 {
		errs = append(errs, "simulation.tick_size must not be negative")
	}
	if !c.Simulation.FillOnQuote && !c.Simulation.FillOnTrade && !c.Simulation.FillOnBar {
		errs = append(errs, "simulation must fill on at least one of quote, trade or bar")
	}

	// Stops
	_, err = types.ParseBarType(c.Stops.FilterBarType)
	check("stops.filter_bar_type", err)
	_, err = stop.ParseFillMode(c.Stops.FillMode)
	check("stops.fill_mode", err)
	if c.Stops.TraceOnBarOpen && !c.Stops.TraceOnBar {
		errs = append(errs, "stops.trace_on_bar_open requires stops.trace_on_bar")
	}

	// Backtest
	if c.Backtest.Symbol == "" {
		errs = append(errs, "backtest.symbol is required")
	}
	_, err = types.ParseBarType(c.Backtest.BarType)
	check("backtest.bar_type", err)
	if c.Backtest.BarSizeSec <= 0 {
		errs = append(errs, "backtest.bar_size_sec must be positive")
	}
	if c.Backtest.InitialEquity <= 0 {
		errs = append(errs, "backtest.initial_equity must be positive")
	}
	if c.Backtest.EventsPerSecond < 0 {
		errs = append(errs, "backtest.events_per_second must not be negative")
	}
	start, err := parseTime(c.Backtest.Start)
	check("backtest.start", err)
	end, err := parseTime(c.Backtest.End)
	check("backtest.end", err)
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		errs = append(errs, "backtest.end must be after backtest.start")
	}

	// Strategy
	_, err = strategy.New(c.Strategy.Name, c.Strategy.LookbackBars)
	check("strategy.name", err)
	if c.Strategy.Quantity <= 0 {
		errs = append(errs, "strategy.quantity must be positive")
	}
	if c.Strategy.FillMode != "" {
		_, err = types.ParseFillMode(c.Strategy.FillMode)
		check("strategy.fill_mode", err)
	}
	if c.Strategy.StopType != "" {
		st, err := stop.ParseStopType(c.Strategy.StopType)
		check("strategy.stop_type", err)
		if err == nil && st == stop.TypeTime {
			errs = append(errs, "strategy.stop_type time is set with strategy.time_limit_min")
		}
		_, err = stop.ParseStopMode(c.Strategy.StopMode)
		check("strategy.stop_mode", err)
		if c.Strategy.StopLevel <= 0 {
			errs = append(errs, "strategy.stop_level must be positive")
		}
	}
	if c.Strategy.TimeLimitMin < 0 {
		errs = append(errs, "strategy.time_limit_min must not be negative")
	}

	// Alerting
	for _, e := range c.Alerting.Events {
		_, err = alerting.ParseEvent(e)
		check("alerting.events", err)
	}

	// Metrics
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	// Logging
	_, err = parseLevel(c.Logging.Level)
	check("logging.level", err)
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, "logging.format must be 'text' or 'json'")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// The converters below assume a validated configuration.

// ToSimulatorConfig converts to execution.SimulatedConfig.
func (c *Config) ToSimulatorConfig() execution.SimulatedConfig {
	quoteMode, _ := execution.ParseQuoteFillMode(c.Simulation.QuoteFillMode)
	tradeMode, _ := execution.ParseTradeFillMode(c.Simulation.TradeFillMode)
	barMode, _ := types.ParseFillMode(c.Simulation.BarFillMode)

	var filter types.BarFilter
	for _, spec := range c.Simulation.BarFilter {
		bt, _ := types.ParseBarType(spec.Type)
		filter = append(filter, types.BarSpec{Type: bt, Size: spec.Size})
	}

	return execution.SimulatedConfig{
		FillOnQuote:   c.Simulation.FillOnQuote,
		FillOnTrade:   c.Simulation.FillOnTrade,
		FillOnBar:     c.Simulation.FillOnBar,
		QuoteFillMode: quoteMode,
		TradeFillMode: tradeMode,
		BarFillMode:   barMode,
		PartialFills:  c.Simulation.PartialFills,
		BarFilter:     filter,
	}
}

// CommissionProvider returns the configured commission provider.
func (c *Config) CommissionProvider() execution.CommissionProvider {
	ct, _ := types.ParseCommType(c.Simulation.Commission.Type)
	if ct == types.CommTypeNone {
		return execution.NoCommission{}
	}
	return execution.FixedCommission{Type: ct, Rate: decimal.NewFromFloat(c.Simulation.Commission.Amount)}
}

// SlippageProvider returns the configured slippage provider. The tick size
// falls back to the backtest symbol's instrument spec.
func (c *Config) SlippageProvider() execution.SlippageProvider {
	if c.Simulation.SlippageTicks == 0 {
		return execution.NoSlippage{}
	}
	tick := decimal.NewFromFloat(c.Simulation.TickSize)
	if tick.IsZero() {
		if spec, ok := types.GetInstrumentSpec(c.Backtest.Symbol); ok {
			tick = spec.TickSize
		}
	}
	return execution.TickSlippage{Ticks: c.Simulation.SlippageTicks, TickSize: tick}
}

// ToStopOptions converts the stop defaults to stop.Options.
func (c *Config) ToStopOptions() stop.Options {
	barType, _ := types.ParseBarType(c.Stops.FilterBarType)
	fillMode, _ := stop.ParseFillMode(c.Stops.FillMode)
	return stop.Options{
		TraceOnBar:     c.Stops.TraceOnBar,
		TraceOnBarOpen: c.Stops.TraceOnBarOpen,
		TraceOnTrade:   c.Stops.TraceOnTrade,
		TraceOnQuote:   c.Stops.TraceOnQuote,
		TrailOnOpen:    c.Stops.TrailOnOpen,
		TrailOnHighLow: c.Stops.TrailOnHighLow,
		FilterBarSize:  c.Stops.FilterBarSize,
		FilterBarType:  barType,
		FillMode:       fillMode,
	}
}

// ToRuntimeConfig converts the strategy section to strategy.RuntimeConfig.
func (c *Config) ToRuntimeConfig() strategy.RuntimeConfig {
	rc := strategy.RuntimeConfig{
		Quantity:  decimal.NewFromFloat(c.Strategy.Quantity),
		TimeLimit: time.Duration(c.Strategy.TimeLimitMin) * time.Minute,
	}
	if c.Strategy.FillMode != "" {
		rc.FillMode, _ = types.ParseFillMode(c.Strategy.FillMode)
	}
	if c.Strategy.StopType != "" {
		st, _ := stop.ParseStopType(c.Strategy.StopType)
		sm, _ := stop.ParseStopMode(c.Strategy.StopMode)
		rc.Stop = &stop.Config{
			Level:   decimal.NewFromFloat(c.Strategy.StopLevel),
			Type:    st,
			Mode:    sm,
			Options: c.ToStopOptions(),
		}
	}
	return rc
}

// NewStrategy builds the configured strategy.
func (c *Config) NewStrategy() (strategy.Strategy, error) {
	s, err := strategy.New(c.Strategy.Name, c.Strategy.LookbackBars)
	if err != nil {
		return nil, err
	}
	if _, ok := s.(*strategy.Breakout); ok && c.Strategy.BreakoutBuffer > 0 {
		cfg := strategy.DefaultBreakoutConfig()
		cfg.LookbackBars = c.Strategy.LookbackBars
		cfg.BreakoutBuffer = decimal.NewFromFloat(c.Strategy.BreakoutBuffer)
		return strategy.NewBreakout(cfg), nil
	}
	return s, nil
}

// ToBacktestConfig converts the backtest section to backtest.Config.
func (c *Config) ToBacktestConfig() backtest.Config {
	start, _ := parseTime(c.Backtest.Start)
	end, _ := parseTime(c.Backtest.End)
	return backtest.Config{
		Symbol:          c.Backtest.Symbol,
		InitialEquity:   decimal.NewFromFloat(c.Backtest.InitialEquity),
		StartTime:       start,
		EndTime:         end,
		EventsPerSecond: c.Backtest.EventsPerSecond,
	}
}

// BarSpec returns the bar series of the backtest data.
func (c *Config) BarSpec() types.BarSpec {
	bt, _ := types.ParseBarType(c.Backtest.BarType)
	return types.BarSpec{Type: bt, Size: c.Backtest.BarSizeSec}
}

// AlertEvents returns the enabled alert events.
func (c *Config) AlertEvents() []alerting.Event {
	events := make([]alerting.Event, 0, len(c.Alerting.Events))
	for _, e := range c.Alerting.Events {
		if ev, err := alerting.ParseEvent(e); err == nil {
			events = append(events, ev)
		}
	}
	return events
}

// ToServerConfig converts the metrics section to metrics.ServerConfig.
func (c *Config) ToServerConfig() metrics.ServerConfig {
	sc := metrics.DefaultServerConfig()
	sc.Port = c.Metrics.Port
	if c.Metrics.Path != "" {
		sc.MetricsPath = c.Metrics.Path
	}
	return sc
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Logging.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// parseTime accepts RFC 3339 or a bare date. Empty is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown time format %q", s)
}
