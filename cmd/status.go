package cmd

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the health endpoint of a running rainfalld instance",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "rainfalld server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
	resp, err := client.Get(statusServer + "/api/v1/health")
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", statusServer, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Uptime  string `json:"uptime"`
		Dataset struct {
			Cities  int      `json:"cities"`
			Sources []string `json:"sources"`
			Errors  []struct {
				Source string `json:"source"`
				Error  string `json:"error"`
			} `json:"errors"`
			LoadedAt time.Time `json:"loaded_at"`
		} `json:"dataset"`
		Storage struct {
			Driver  string `json:"driver"`
			Status  string `json:"status"`
			Entries int    `json:"unresolved_entries"`
		} `json:"storage"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&health); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	// Human-readable output.
	fmt.Printf("rainfalld %s\n", health.Version)
	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Uptime: %s\n", health.Uptime)
	fmt.Println()

	fmt.Println("Dataset:")
	fmt.Printf("  Cities: %s\n", formatNumber(health.Dataset.Cities))
	fmt.Printf("  Sources: %d\n", len(health.Dataset.Sources))
	if !health.Dataset.LoadedAt.IsZero() {
		fmt.Printf("  Loaded: %s (%s ago)\n",
			health.Dataset.LoadedAt.Format(time.RFC3339),
			time.Since(health.Dataset.LoadedAt).Round(time.Second))
	}
	for _, e := range health.Dataset.Errors {
		fmt.Printf("  Skipped %s: %s\n", e.Source, e.Error)
	}
	fmt.Println()

	fmt.Printf("Unresolved log: %s (%s)\n", health.Storage.Driver, health.Storage.Status)
	if health.Storage.Entries > 0 {
		fmt.Printf("  Entries: %s\n", formatNumber(health.Storage.Entries))
	}

	return nil
}

// formatNumber formats an integer with comma separators (e.g., 1,247,832).
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
