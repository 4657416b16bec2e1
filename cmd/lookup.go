package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chadmayfield/rainfalld/internal/dataset"
	"github.com/chadmayfield/rainfalld/internal/observability"
	"github.com/chadmayfield/rainfalld/internal/rainfall"
	"github.com/chadmayfield/rainfalld/internal/resolve"
	"github.com/chadmayfield/rainfalld/internal/store"
	"github.com/chadmayfield/rainfalld/internal/unresolved"
)

var (
	lookupName   string
	lookupCode   string
	lookupLat    float64
	lookupLon    float64
	lookupMode   string
	lookupMonths int
	lookupRecord bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Resolve a city from the local dataset and print its monthly rainfall",
	Example: `  rainfalld lookup --name "São Paulo"
  rainfalld lookup --code 3550308 --mode sum
  rainfalld lookup --lat -22.9 --lon -47.06 --months 3`,
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().StringVar(&lookupName, "name", "", "city name (case-insensitive)")
	lookupCmd.Flags().StringVar(&lookupCode, "code", "", "administrative code")
	lookupCmd.Flags().Float64Var(&lookupLat, "lat", 0, "latitude in degrees")
	lookupCmd.Flags().Float64Var(&lookupLon, "lon", 0, "longitude in degrees")
	lookupCmd.Flags().StringVar(&lookupMode, "mode", "mean", "monthly aggregate (mean or sum)")
	lookupCmd.Flags().IntVar(&lookupMonths, "months", 0, "trailing months to show (default from config)")
	lookupCmd.Flags().BoolVar(&lookupRecord, "record", false, "record a miss in the unresolved log")
	lookupCmd.MarkFlagsRequiredTogether("lat", "lon")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogFormat, cfg.LogLevel)

	mode, err := rainfall.ParseMode(lookupMode)
	if err != nil {
		return err
	}
	window := lookupMonths
	if window <= 0 {
		window = cfg.Aggregation.MeanMonths
		if mode == rainfall.Sum {
			window = cfg.Aggregation.SumMonths
		}
	}

	q := resolve.Query{Name: strings.TrimSpace(lookupName), Code: strings.TrimSpace(lookupCode)}
	if cmd.Flags().Changed("lat") {
		lat, lon := lookupLat, lookupLon
		q.Lat, q.Lon = &lat, &lon
	}
	if q.Name == "" && q.Code == "" && q.Lat == nil {
		return fmt.Errorf("%w: one of --name, --code or --lat/--lon is required", resolve.ErrInvalidQuery)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loader := dataset.DirLoader{Dir: cfg.Dataset.Dir, Pattern: cfg.Dataset.Pattern}
	s, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	for _, se := range s.Errors() {
		logger.Warn("skipping malformed dataset source", "source", se.Source, "error", se.Err)
	}

	m, err := resolve.Resolve(s, q)
	if errors.Is(err, resolve.ErrNotFound) {
		if lookupRecord {
			recordMiss(ctx, cfg.Storage.Driver, cfg.DSN(), q, logger)
		}
		if hints := resolve.Suggest(s, q.Name, 5); len(hints) > 0 {
			return fmt.Errorf("%w (did you mean: %s?)", err, strings.Join(hints, ", "))
		}
		return err
	}
	if err != nil {
		return err
	}

	c := m.City
	fmt.Printf("%s", c.Name)
	if c.State != "" {
		fmt.Printf(" (%s)", c.State)
	}
	fmt.Printf("  code %s", c.Code)
	if lat, lon, ok := c.Coordinates(); ok {
		fmt.Printf("  %.4f, %.4f", lat, lon)
	}
	fmt.Printf("  matched by %s", m.Method)
	if m.Method == resolve.MethodNearest {
		fmt.Printf(" (%.1f km away)", m.DistanceKm)
	}
	fmt.Println()
	fmt.Println()

	buckets := rainfall.Aggregate(c.Daily, mode, window)
	if len(buckets) == 0 {
		fmt.Println("no rainfall readings")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "MONTH\t\t%s (mm)\tDAYS\t\n", mode)
	for _, b := range buckets {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t\n", b.YearMonth, b.Abbrev, b.Value, b.Days)
	}
	return tw.Flush()
}

// recordMiss writes q to the unresolved log. Failures are logged by the
// notifier and do not change the command result.
func recordMiss(ctx context.Context, driver, dsn string, q resolve.Query, logger *slog.Logger) {
	s, err := store.Open(driver, dsn)
	if err != nil {
		logger.Error("opening unresolved log", "error", err)
		return
	}
	defer s.Close() //nolint:errcheck

	n := unresolved.NewNotifier(s, logger, observability.NewMetricsWith(prometheus.NewRegistry()))
	n.Notify(ctx, q.Name, q.Code)
}
