package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadmayfield/rainfalld/internal/store"
)

var unresolvedLimit int

var unresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "Print the queries that matched no city",
	RunE:  runUnresolved,
}

func init() {
	unresolvedCmd.Flags().IntVar(&unresolvedLimit, "limit", 0, "maximum entries to print, oldest first (0 prints all)")
	rootCmd.AddCommand(unresolvedCmd)
}

func runUnresolved(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogFormat, cfg.LogLevel)

	s, err := store.Open(cfg.Storage.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	entries, err := s.GetUnresolved(cmd.Context(), unresolvedLimit)
	if err != nil {
		return err
	}
	total, err := s.CountUnresolved(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tNAME\tCODE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), orDash(e.Name), orDash(e.Code))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%s of %s entries\n", formatNumber(len(entries)), formatNumber(total))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
