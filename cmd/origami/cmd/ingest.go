package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/origami/internal/ingest"
	"github.com/good-yellow-bee/origami/internal/pipeline"
	"github.com/good-yellow-bee/origami/internal/plugin"
)

var ingestNoStore bool

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Process packet files once and report the outcome",
	Long: `Ingest reads packet envelopes from JSON-lines files, or YAML files with
one envelope per document, runs them through the domain engines and
escalates every alert. Results are persisted unless --no-store is set.`,
	Example: `  origami ingest packets.jsonl
  origami ingest -o json night-shift.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestNoStore, "no-store", false, "do not write a snapshot after processing")
	rootCmd.AddCommand(ingestCmd)
}

// ingestReport is the machine-readable result of an ingest run.
type ingestReport struct {
	Pipeline  pipeline.Stats                `json:"pipeline"`
	Domains   map[string]plugin.DomainStats `json:"domains"`
	Exhausted []string                      `json:"exhausted"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := ingest.NewFileSource(ingest.FileConfig{Paths: args}, ingest.Decoder{}, logger)
	p := a.pipeline()
	runErr := p.Run(ctx, src)

	if !ingestNoStore {
		if err := a.snapshot(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	report := ingestReport{
		Pipeline:  p.Stats(),
		Domains:   a.registry.AggregateStats(),
		Exhausted: p.Exhausted(),
	}
	if output == "json" {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printIngestReport(report)
	}
	return runErr
}

func printIngestReport(r ingestReport) {
	s := r.Pipeline
	fmt.Printf("Packets: %d | Alerts: %d | Resolved: %d | Exhausted: %d | Errors: %d\n",
		s.Packets, s.Alerts, s.Resolved, s.Exhausted, s.DispatchErrors+s.RouteErrors)

	ids := make([]string, 0, len(r.Domains))
	for id := range r.Domains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DOMAIN\tPACKETS\tALERTS\tINFO\tWARNING\tCRITICAL\tEMERGENCY\n")
	for _, id := range ids {
		d := r.Domains[id]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", id, d.Packets, d.TotalAlerts,
			d.AlertsBySeverity["INFO"], d.AlertsBySeverity["WARNING"],
			d.AlertsBySeverity["CRITICAL"], d.AlertsBySeverity["EMERGENCY"])
	}
	w.Flush()

	if len(r.Exhausted) > 0 {
		fmt.Printf("\nUnresolved alerts (%d):\n", len(r.Exhausted))
		for _, id := range r.Exhausted {
			fmt.Printf("  - %s\n", id)
		}
	}
}
