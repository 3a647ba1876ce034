// Command replay applies a JSON-lines event file to the configured store,
// resuming after the stored checkpoint, and prints a summary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"morpho-points/internal/app"
	"morpho-points/internal/ingestion"
	"morpho-points/internal/logger"
	"morpho-points/internal/replay"
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
	fileFlag := flag.String("file", "", "JSON-lines event file (defaults to [source] file)")
	progressFlag := flag.Int("progress-every", 10000, "log progress every N applied events (0 disables)")
	verifyFlag := flag.Bool("verify", false, "run the consistency verifier after the replay")
	jsonFlag := flag.Bool("json", false, "print the summary as JSON")
	sortFlag := flag.Bool("sort", false, "load the whole file and sort it into chain order before replaying")
	flag.Parse()

	log := logger.New(flags.Verbose)

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	path := cfg.Source.File
	if flag.CommandLine.Changed("file") {
		path = *fileFlag
	}
	if path == "" {
		return fmt.Errorf("--file is required")
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

	file, err := ingestion.OpenFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var src ingestion.Source = file
	if *sortFlag {
		sorted, err := ingestion.LoadSorted(ctx, file)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		src = sorted
	}

	log.Info("replaying", "file", path, "backend", backend.Name, "mode", cfg.Accrual.Mode, "sorted", *sortFlag)
	runner := replay.NewRunner(src, eng, backend.Store, replay.Options{
		Logger:        log,
		ProgressEvery: *progressFlag,
	})
	stats, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("replay failed after %d events: %w", stats.Read, err)
	}

	var report *verification.Report
	if *verifyFlag {
		report, err = verification.NewVerifier(backend.Store, eng.Accumulator()).Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
	}

	if *jsonFlag {
		output, err := json.MarshalIndent(struct {
			Stats        *replay.Stats        `json:"stats"`
			Verification *verification.Report `json:"verification,omitempty"`
		}{stats, report}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
	} else {
		printSummary(stats, report)
	}

	if report != nil && !report.OK() {
		return fmt.Errorf("verification found %d issues", len(report.Issues))
	}
	return nil
}

func printSummary(stats *replay.Stats, report *verification.Report) {
	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Events Read:       %d\n", stats.Read)
	fmt.Printf("Skipped:           %d\n", stats.Skipped)
	fmt.Printf("Applied:           %d\n", stats.Applied)
	fmt.Printf("Rejected:          %d\n", stats.Rejected)
	fmt.Printf("Morpho Txs:        %d\n", stats.MorphoTxs)
	fmt.Printf("MetaMorpho Txs:    %d\n", stats.MetaMorphoTxs)
	fmt.Printf("Snapshots:         %d\n", stats.Snapshots)
	if stats.Last != nil {
		fmt.Printf("Last Block:        %d (tx %d, log %d)\n", stats.Last.BlockNumber, stats.Last.TxIndex, stats.Last.LogIndex)
	} else {
		fmt.Printf("Last Block:        N/A\n")
	}
	fmt.Printf("Duration:          %v\n", stats.Duration)

	if report == nil {
		return
	}
	fmt.Printf("\n=== Verification ===\n")
	fmt.Printf("Markets: %d  Vaults: %d  Positions: %d  Transactions: %d\n",
		report.Markets, report.Vaults, report.Positions, report.Transactions)
	if report.OK() {
		fmt.Println("All checks passed.")
		return
	}
	for _, issue := range report.Issues {
		fmt.Println("  " + issue.String())
	}
}
