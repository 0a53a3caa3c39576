package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/scan"
	"github.com/CosmoTheDev/painscan/models"
)

var (
	scanRepoURL   string
	scanAnalyzer  string
	scanOutputFmt string
	scanQuiet     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a repository and print its remediation roadmap",
	Long: `Runs the full Plan, Hunt, Explain and Write pipeline against a public
repository in this process and prints the prioritized roadmap.

Examples:
  painscan scan --repo https://github.com/example/myapp
  painscan scan --repo https://gitlab.com/group/project --analyzer hybrid
  painscan scan --repo https://github.com/example/myapp --output json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRepoURL, "repo", "", "Repository URL to scan (required)")
	scanCmd.Flags().StringVar(&scanAnalyzer, "analyzer", "", "Analyzer mode: pattern|ai|hybrid (overrides config)")
	scanCmd.Flags().StringVar(&scanOutputFmt, "output", "table", "Output format: table|json|yaml")
	scanCmd.Flags().BoolVarP(&scanQuiet, "quiet", "q", false, "Do not print progress while scanning")
	_ = scanCmd.MarkFlagRequired("repo")
}

func runScan(cmd *cobra.Command, args []string) error {
	switch scanOutputFmt {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("invalid output format %q (valid: table, json, yaml)", scanOutputFmt)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if scanAnalyzer != "" {
		cfg.Analyzer.Mode = scanAnalyzer
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	svc, err := scan.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer svc.Wait()

	id, err := svc.Submit(ctx, scanRepoURL)
	if err != nil {
		return err
	}
	slog.Debug("Scan submitted", "scan_id", id, "repo", scanRepoURL, "analyzer", cfg.Analyzer.Mode)

	var onLog func(models.LogEntry)
	if !scanQuiet && scanOutputFmt == "table" {
		fmt.Printf("Scanning %s (scan %s)\n\n", scanRepoURL, id)
		onLog = func(e models.LogEntry) {
			fmt.Printf("  [%-7s] %s\n", e.Phase, e.Message)
		}
	}

	rec, err := svc.Await(ctx, id, onLog)
	if err != nil {
		return fmt.Errorf("waiting for scan %s: %w", id, err)
	}

	if err := printRecord(os.Stdout, rec, scanOutputFmt); err != nil {
		return err
	}
	if rec.Status == models.StatusFailed {
		return fmt.Errorf("scan %s failed", id)
	}
	return nil
}

func printRecord(w io.Writer, rec models.ScanRecord, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(rec)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Scan Results ===")
	fmt.Fprintf(w, "Status: %s\n", rec.Status)
	if rec.Status == models.StatusFailed {
		if n := len(rec.Logs); n > 0 {
			fmt.Fprintf(w, "Reason: %s\n", rec.Logs[n-1].Message)
		}
		return nil
	}
	if s := rec.Stats; s != nil {
		fmt.Fprintf(w, "Languages: %s\n", strings.Join(s.Languages, ", "))
		fmt.Fprintf(w, "Critical: %d  High: %d  Medium: %d  Low: %d  (total %d, ~%d minutes saved)\n\n",
			s.CriticalCount, s.HighCount, s.MediumCount, s.LowCount, s.TotalFindings, s.TotalMinutesSaved)
	}

	roadmap := rec.Roadmap()
	if len(roadmap) == 0 {
		fmt.Fprintln(w, "No findings. Nothing hurts yet.")
		return nil
	}
	fmt.Fprintln(w, "=== Roadmap ===")
	for i, f := range roadmap {
		fmt.Fprintf(w, "%2d. [%-8s] %s (%s)\n", i+1, f.Severity, f.Title, f.ETA)
		fmt.Fprintf(w, "    %s:%d\n", f.File, f.Line)
		if f.Fix != "" {
			fmt.Fprintf(w, "    fix: %s\n", f.Fix)
		}
		if t := f.Timeline.Get("1 year"); t != "" {
			fmt.Fprintf(w, "    in a year: %s\n", t)
		}
	}
	return nil
}
