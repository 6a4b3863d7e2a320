package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/origami/internal/models"
	"github.com/good-yellow-bee/origami/internal/summary"
)

var (
	summarySubject string
	summaryDomain  string
	summarySince   string
	summaryUntil   string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize persisted alerts and escalations",
	Example: `  origami summary --subject patient-17
  origami summary --domain security --since 2026-03-01 -o json`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().StringVar(&summarySubject, "subject", "", "subject id (default: all subjects)")
	summaryCmd.Flags().StringVar(&summaryDomain, "domain", "", "domain id (default: all domains)")
	summaryCmd.Flags().StringVar(&summarySince, "since", "", "start of the window, RFC 3339 or YYYY-MM-DD")
	summaryCmd.Flags().StringVar(&summaryUntil, "until", "", "end of the window (exclusive)")
	rootCmd.AddCommand(summaryCmd)
}

func parseFlagTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: use RFC 3339 or YYYY-MM-DD", name, value)
	}
	return t, nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	from, err := parseFlagTime("since", summarySince)
	if err != nil {
		return err
	}
	to, err := parseFlagTime("until", summaryUntil)
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return fmt.Errorf("--since must be before --until")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	domainIDs := []string{summaryDomain}
	if summaryDomain == "" {
		if domainIDs, err = a.store.Domains(ctx); err != nil {
			return fmt.Errorf("list domains: %w", err)
		}
	}

	var (
		alerts []models.Alert
		chains []models.Chain
	)
	for _, id := range domainIDs {
		snap, err := a.store.LoadSnapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
		alerts = append(alerts, snap.Alerts...)
		chains = append(chains, snap.Chains...)
	}

	s := summary.Build(summary.Query{
		SubjectID: summarySubject,
		DomainID:  summaryDomain,
		From:      from,
		To:        to,
	}, alerts, chains)

	if output == "json" {
		return printJSON(s)
	}
	printSummary(s)
	return nil
}

func printSummary(s models.Summary) {
	fmt.Println(s.Text)
	if s.TotalAlerts == 0 {
		return
	}
	fmt.Println()
	for _, sev := range models.Severities {
		fmt.Printf("  %-10s %d\n", sev, s.AlertsBySeverity[sev])
	}
	printIDs := func(label string, ids []string) {
		if len(ids) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", label, len(ids))
		for _, id := range ids {
			fmt.Printf("  - %s\n", id)
		}
	}
	printIDs("Unresolved", s.Unresolved)
	printIDs("In progress", s.Pending)
	printIDs("Cancelled", s.Cancelled)
}
