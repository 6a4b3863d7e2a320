package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/models"
	"github.com/good-yellow-bee/origami/internal/plugin"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List the registered domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Only the engines are needed; storage and notifiers stay closed.
		a := &app{cfg: cfg, logger: logging.Discard(), registry: plugin.New()}
		if err := a.registerDomains(); err != nil {
			return err
		}
		list := a.registry.Domains()
		if output == "json" {
			return printJSON(list)
		}
		printDomains(list)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(domainsCmd)
}

func printDomains(list []models.Domain) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tDATA TYPES\tSEVERITIES\n")
	for _, d := range list {
		sev := make([]string, len(d.Severities))
		for i, s := range d.Severities {
			sev[i] = string(s)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, strings.Join(d.DataTypes, ", "), strings.Join(sev, ", "))
	}
	w.Flush()
}
