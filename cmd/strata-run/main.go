package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/interfaces"
	"github.com/halewood/strata/internal/models"
	"github.com/halewood/strata/internal/services/collateral"
	"github.com/halewood/strata/internal/services/loader"
	"github.com/halewood/strata/internal/services/rules"
	"github.com/halewood/strata/internal/services/simulation"
	"github.com/halewood/strata/internal/services/waterfall"
)

func main() {
	dealPath := flag.String("deal", "", "path to deal spec JSON (required)")
	collateralPath := flag.String("collateral", "", "path to collateral payload JSON (optional; falls back to the spec's collateral)")
	tapePath := flag.String("tape", "", "path to servicer tape CSV (optional)")
	outDir := flag.String("out", "", "report output directory (default from config)")
	horizon := flag.Int("horizon", 0, "total simulation horizon in periods (default from config)")
	cpr := flag.Float64("cpr", -1, "annualized constant prepayment rate (default from config)")
	cdr := flag.Float64("cdr", -1, "annualized constant default rate (default from config)")
	severity := flag.Float64("severity", -1, "loss severity on defaults (default from config)")
	evalOnly := flag.Bool("eval-only", false, "replay actuals through tests and variables only, without routing cash")
	noBanner := flag.Bool("no-banner", false, "suppress the startup banner")
	flag.Parse()

	config, err := common.LoadConfig("strata.toml", os.Getenv("STRATA_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(config.Logging.Level)

	if !*noBanner {
		common.PrintBanner(config, logger)
	}

	if *dealPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: strata-run -deal <deal.json> [-collateral <pool.json>] [-tape <tape.csv>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	opts := interfaces.RunOptions{
		CPR:                     config.Simulation.CPR,
		CDR:                     config.Simulation.CDR,
		Severity:                config.Simulation.Severity,
		HorizonPeriods:          config.Simulation.HorizonPeriods,
		ApplyWaterfallToActuals: config.Simulation.ApplyWaterfallToActuals,
	}
	if *horizon > 0 {
		opts.HorizonPeriods = *horizon
	}
	if *cpr >= 0 {
		opts.CPR = *cpr
	}
	if *cdr >= 0 {
		opts.CDR = *cdr
	}
	if *severity >= 0 {
		opts.Severity = *severity
	}
	if *evalOnly {
		opts.ApplyWaterfallToActuals = false
	}

	reportDir := config.Report.OutputDir
	if *outDir != "" {
		reportDir = *outDir
	}

	if err := run(*dealPath, *collateralPath, *tapePath, reportDir, opts, logger); err != nil {
		logger.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}
}

func run(dealPath, collateralPath, tapePath, reportDir string, opts interfaces.RunOptions, logger *common.Logger) error {
	spec, err := readJSONMap(dealPath)
	if err != nil {
		return fmt.Errorf("failed to read deal spec: %w", err)
	}

	var collateralPayload map[string]any
	if collateralPath != "" {
		collateralPayload, err = readJSONMap(collateralPath)
		if err != nil {
			return fmt.Errorf("failed to read collateral payload: %w", err)
		}
	}

	var tapeRows []models.TapeRow
	if tapePath != "" {
		tapeRows, err = readTapeCSV(tapePath)
		if err != nil {
			return fmt.Errorf("failed to read servicer tape: %w", err)
		}
	}

	def, err := loader.NewService(logger).Load(spec)
	if err != nil {
		return err
	}

	engine := rules.NewEngine(logger)
	driver := simulation.NewDriver(
		waterfall.NewRunner(engine, logger),
		engine,
		collateral.NewModel(logger),
		nil,
		logger,
	)

	// Interrupt cancels at the next period boundary
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := driver.RunSimulation(ctx, def, collateralPayload, tapeRows, opts)
	if err != nil {
		return err
	}

	if err := writeOutputs(reportDir, def.DealID(), result); err != nil {
		return err
	}

	logger.Info().
		Str("run_id", result.RunID).
		Str("deal_id", def.DealID()).
		Int("periods", result.PeriodsRun).
		Int("reconciliation_entries", len(result.Reconciliation)).
		Bool("terminated", result.Terminated).
		Str("report_dir", reportDir).
		Msg("Run complete")

	return nil
}

// writeOutputs persists the cashflow report CSV and, when reconciliation
// produced any entries, a reconciliation JSON alongside it.
func writeOutputs(dir, dealID string, result *models.RunResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if dealID == "" {
		dealID = "deal"
	}

	reportPath := filepath.Join(dir, fmt.Sprintf("%s_cashflows.csv", dealID))
	f, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	if err := result.Report.WriteCSV(f); err != nil {
		return err
	}

	if len(result.Reconciliation) == 0 {
		return nil
	}

	reconPath := filepath.Join(dir, fmt.Sprintf("%s_reconciliation.json", dealID))
	data, err := json.MarshalIndent(result.Reconciliation, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode reconciliation: %w", err)
	}
	if err := os.WriteFile(reconPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write reconciliation file: %w", err)
	}
	return nil
}

func readJSONMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// readTapeCSV reads a servicer tape into generic rows. Cells stay strings;
// the tape aggregator coerces numerics and applies column aliases.
func readTapeCSV(path string) ([]models.TapeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", path, err)
	}

	var rows []models.TapeRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		row := make(models.TapeRow, len(header))
		for i, col := range header {
			if i >= len(record) {
				break
			}
			row[col] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
