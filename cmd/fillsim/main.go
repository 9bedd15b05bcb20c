// Package main is the entry point for the fill simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/fillsim/internal/alerting"
	"github.com/tathienbao/fillsim/internal/backtest"
	"github.com/tathienbao/fillsim/internal/clock"
	"github.com/tathienbao/fillsim/internal/config"
	"github.com/tathienbao/fillsim/internal/execution"
	"github.com/tathienbao/fillsim/internal/marketdata"
	"github.com/tathienbao/fillsim/internal/metrics"
	"github.com/tathienbao/fillsim/internal/observer"
	"github.com/tathienbao/fillsim/internal/persistence"
	"github.com/tathienbao/fillsim/internal/strategy"
	"github.com/tathienbao/fillsim/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "backtest":
		cmdBacktest(os.Args[2:])
	case "import":
		cmdImport(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`fillsim - Order fill and position stop simulator for bar backtests

Usage:
  fillsim <command> [options]

Commands:
  backtest   Replay bars through the fill simulator
  import     Load a CSV bar file into a SQLite database
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  fillsim backtest --config config.yaml --data data/MES_1m.csv
  fillsim import --csv data/MES_1m.csv --db data/bars.db --symbol MES
  fillsim backtest --config config.yaml --data data/bars.db
  fillsim validate --config config.yaml

Use "fillsim <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("fillsim version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	rc := cfg.ToRuntimeConfig()
	fmt.Println("Configuration is valid!")
	fmt.Printf("  Symbol:           %s\n", cfg.Backtest.Symbol)
	fmt.Printf("  Initial equity:   $%.2f\n", cfg.Backtest.InitialEquity)
	fmt.Printf("  Bar fill mode:    %s\n", cfg.Simulation.BarFillMode)
	fmt.Printf("  Strategy:         %s (qty %s)\n", cfg.Strategy.Name, rc.Quantity)
	if rc.Stop != nil {
		fmt.Printf("  Position stop:    %s %s %s\n", rc.Stop.Type, rc.Stop.Mode, rc.Stop.Level)
	}
	if rc.TimeLimit > 0 {
		fmt.Printf("  Time stop:        %s\n", rc.TimeLimit)
	}
}

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	csvPath := fs.String("csv", "", "Path to CSV bar file (required)")
	dbPath := fs.String("db", "", "Path to SQLite database (required)")
	symbol := fs.String("symbol", "", "Symbol the bars belong to (required)")
	barType := fs.String("bar-type", "time", "Bar type: time, tick, volume, range")
	barSize := fs.Int64("bar-size", 60, "Bar size (seconds for time bars)")
	fs.Parse(args)

	if *csvPath == "" || *dbPath == "" || *symbol == "" {
		fmt.Fprintln(os.Stderr, "Error: --csv, --db and --symbol are required")
		fs.Usage()
		os.Exit(1)
	}

	logger := newLogger("text", slog.LevelInfo)

	bt, err := types.ParseBarType(*barType)
	if err != nil {
		logger.Error("invalid bar type", "err", err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		logger.Error("failed to open csv", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	bars, err := observer.ParseCSV(f, types.BarSpec{Type: bt, Size: *barSize})
	if err != nil {
		logger.Error("failed to parse csv", "err", err)
		os.Exit(1)
	}

	repo, err := persistence.NewSQLiteRepository(*dbPath)
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.SaveBars(context.Background(), *symbol, bars); err != nil {
		logger.Error("failed to save bars", "err", err)
		os.Exit(1)
	}

	logger.Info("import complete", "symbol", *symbol, "bars", len(bars), "db", *dbPath)
}

func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "CSV or SQLite (.db) bar data; overrides backtest.data")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *dataPath != "" {
		cfg.Backtest.Data = *dataPath
	}
	if cfg.Backtest.Data == "" {
		fmt.Fprintln(os.Stderr, "Error: --data or backtest.data is required")
		fs.Usage()
		os.Exit(1)
	}

	level := cfg.LogLevel()
	if *verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(cfg.Logging.Format, level)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := runBacktest(ctx, cfg, logger)
	if err != nil {
		logger.Error("backtest failed", "err", err)
		os.Exit(1)
	}

	printBacktestResults(result)
	printPerformance(result.Performance)
}

func runBacktest(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backtest.Result, error) {
	bc := cfg.ToBacktestConfig()

	feed, err := openFeed(cfg, bc)
	if err != nil {
		return nil, err
	}
	obs := observer.NewObserver(feed, cfg.BarSpec(), logger)
	defer obs.Close()

	recorder := metrics.NewRecorder()
	clk := clock.New(bc.StartTime)
	instruments := marketdata.NewRegistry()

	sim := execution.NewSimulator(cfg.ToSimulatorConfig(), clk, instruments, logger)
	sim.SetCommissionProvider(cfg.CommissionProvider())
	sim.SetSlippageProvider(cfg.SlippageProvider())
	sim.SetRecorder(recorder)

	strat, err := cfg.NewStrategy()
	if err != nil {
		return nil, err
	}
	rt := strategy.NewRuntime(cfg.ToRuntimeConfig(), strat, sim, instruments, clk, logger)
	rt.SetRecorder(recorder)
	sim.SetReportHandler(rt.OnExecutionReport)

	runner := backtest.NewRunner(bc, obs, clk, instruments, sim, rt, logger)
	runner.SetRecorder(recorder)

	if cfg.Alerting.Enabled {
		alerter := alerting.NewFilterAlerter(
			alerting.NewMultiAlerter(logger, alerting.NewConsoleAlerter(logger)),
			cfg.AlertEvents()...,
		)
		rt.SetAlerter(alerter)
		runner.SetAlerter(alerter)
	}

	var progress metrics.ReplayProgress
	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.ToServerConfig(), logger)
		server.RegisterHealthCheck("replay", progress.Check(30*time.Second))
		if err := server.Start(); err != nil {
			return nil, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "err", err)
			}
		}()
	}

	runner.SetProgressCallback(func(u backtest.ProgressUpdate) {
		progress.Mark(time.Now())
		if u.Bar%1000 == 0 {
			logger.Debug("replay progress",
				"bars", u.Bar,
				"time", u.Time,
				"equity", u.Equity.StringFixed(2),
				"trades", u.Trades,
				"open_orders", u.OpenOrders,
			)
		}
	})

	logger.Info("starting backtest",
		"data", cfg.Backtest.Data,
		"symbol", bc.Symbol,
		"strategy", strat.Name(),
		"equity", cfg.Backtest.InitialEquity,
	)

	result, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	if n := obs.Dropped(); n > 0 {
		logger.Warn("invalid bars dropped", "count", n)
	}
	return result, nil
}

// openFeed picks the SQLite feed for .db and .sqlite files and the CSV feed
// for anything else.
func openFeed(cfg *config.Config, bc backtest.Config) (observer.BarFeed, error) {
	switch strings.ToLower(filepath.Ext(cfg.Backtest.Data)) {
	case ".db", ".sqlite", ".sqlite3":
		repo, err := persistence.NewSQLiteRepository(cfg.Backtest.Data)
		if err != nil {
			return nil, fmt.Errorf("open bar database: %w", err)
		}
		return observer.NewSQLiteFeed(repo, bc.StartTime, bc.EndTime), nil
	default:
		return observer.NewCSVFeed(cfg.Backtest.Data, cfg.BarSpec()), nil
	}
}

func newLogger(format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func printBacktestResults(result *backtest.Result) {
	hundred := decimal.NewFromInt(100)
	totalReturn := decimal.Zero
	if result.StartEquity.IsPositive() {
		totalReturn = result.EndEquity.Sub(result.StartEquity).Div(result.StartEquity)
	}

	fmt.Println("\n=== BACKTEST RESULTS ===")
	fmt.Printf("Symbol:           %s\n", result.Symbol)
	fmt.Printf("Bars:             %d (%s to %s)\n", result.Bars,
		result.StartTime.Format(time.RFC3339), result.EndTime.Format(time.RFC3339))
	fmt.Printf("Starting Equity:  $%.2f\n", result.StartEquity.InexactFloat64())
	fmt.Printf("Ending Equity:    $%.2f\n", result.EndEquity.InexactFloat64())
	fmt.Printf("Total Return:     %.2f%%\n", totalReturn.Mul(hundred).InexactFloat64())
	fmt.Printf("Realized P&L:     $%.2f\n", result.RealizedPL.InexactFloat64())
	fmt.Printf("Commission:       $%.2f\n", result.Commission.InexactFloat64())
	fmt.Println()
	fmt.Printf("Fills:            %d\n", result.Fills)
	fmt.Printf("Cancels:          %d\n", result.Cancels)
	fmt.Printf("Rejects:          %d\n", result.Rejects)
	fmt.Printf("Stops Executed:   %d\n", result.StopsExecuted)
	fmt.Printf("Stops Canceled:   %d\n", result.StopsCanceled)
	fmt.Printf("Total Trades:     %d\n", len(result.Trades))
	if pos := result.OpenPosition; pos != nil {
		fmt.Printf("Open Position:    %s %s @ %s\n", pos.Side, pos.Qty, pos.EntryPrice)
	}
}

func printPerformance(p backtest.Performance) {
	hundred := decimal.NewFromInt(100)

	fmt.Println("\n=== PERFORMANCE METRICS ===")
	fmt.Printf("Winning Trades:   %d\n", p.WinningTrades)
	fmt.Printf("Losing Trades:    %d\n", p.LosingTrades)
	fmt.Printf("Win Rate:         %.2f%%\n", p.WinRate.Mul(hundred).InexactFloat64())
	fmt.Printf("Profit Factor:    %.2f\n", p.ProfitFactor.InexactFloat64())
	fmt.Printf("Expectancy:       $%.2f\n", p.Expectancy.InexactFloat64())
	fmt.Printf("Avg Win:          $%.2f\n", p.AverageWin.InexactFloat64())
	fmt.Printf("Avg Loss:         $%.2f\n", p.AverageLoss.InexactFloat64())
	fmt.Printf("Max Drawdown:     %.2f%%\n", p.MaxDrawdown.Mul(hundred).InexactFloat64())
	fmt.Printf("Sharpe Ratio:     %.2f\n", p.SharpeRatio.InexactFloat64())
}
