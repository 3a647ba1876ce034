// Command report renders a points report for one user or every position,
// as CSV, Markdown or JSON. With the memory backend the event file is
// replayed first.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"morpho-points/internal/app"
	"morpho-points/internal/config"
	"morpho-points/internal/ingestion"
	"morpho-points/internal/logger"
	"morpho-points/internal/query"
	"morpho-points/internal/replay"
	"morpho-points/internal/reporting"
	"morpho-points/internal/verification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := app.BindFlags(flag.CommandLine)
	userFlag := flag.String("user", "", "report only this address")
	atFlag := flag.Int64("at", 0, "unix timestamp to project points to (0 = last applied event)")
	formatFlag := flag.String("format", "markdown", "output format: csv, markdown or json")
	outputFlag := flag.String("output", "", "write the report to this file instead of stdout")
	decimalsFlag := flag.Int32("decimals", 0, "divide points by 10^decimals for display (defaults to [report] points_decimals)")
	verifyFlag := flag.Bool("verify", false, "include the consistency verification")
	fileFlag := flag.String("file", "", "event file to replay first (required for the memory backend)")
	flag.Parse()

	log := logger.New(flags.Verbose)

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if flag.CommandLine.Changed("decimals") {
		cfg.Report.PointsDecimals = *decimalsFlag
	}
	if flag.CommandLine.Changed("file") {
		cfg.Source.File = *fileFlag
	}

	var user *common.Address
	if *userFlag != "" {
		if !common.IsHexAddress(*userFlag) {
			return fmt.Errorf("invalid --user address %q", *userFlag)
		}
		addr := common.HexToAddress(*userFlag)
		user = &addr
	}
	switch *formatFlag {
	case "csv", "markdown", "json":
	default:
		return fmt.Errorf("unknown --format %q", *formatFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	eng, err := app.NewEngine(cfg, backend, log)
	if err != nil {
		return err
	}

	if cfg.Source.File != "" {
		src, err := ingestion.OpenFile(cfg.Source.File)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := replay.NewRunner(src, eng, backend.Store, replay.Options{Logger: log}).Run(ctx); err != nil {
			return fmt.Errorf("replay %s: %w", cfg.Source.File, err)
		}
	} else if cfg.Storage.Backend == config.BackendMemory {
		return fmt.Errorf("--file is required with the memory backend")
	}

	gen := reporting.NewGenerator(query.NewService(backend.Store, eng.Accumulator()), cfg.Report.PointsDecimals)
	rep, err := gen.Generate(ctx, user, *atFlag)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	if *verifyFlag {
		rep.Verification, err = verification.NewVerifier(backend.Store, eng.Accumulator()).Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
	}

	var out string
	switch *formatFlag {
	case "csv":
		out = reporting.RenderCSV(rep)
	case "markdown":
		out = reporting.RenderMarkdown(rep)
	case "json":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		out = string(data) + "\n"
	}

	if *outputFlag == "" {
		fmt.Print(out)
	} else {
		if err := os.WriteFile(*outputFlag, []byte(out), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", *outputFlag, err)
		}
		log.Info("report written", "path", *outputFlag, "rows", len(rep.Rows))
	}

	if rep.Verification != nil && !rep.Verification.OK() {
		return fmt.Errorf("verification found %d issues", len(rep.Verification.Issues))
	}
	return nil
}
