package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"resilient/internal/config"
	"resilient/internal/models"
	"resilient/internal/transport"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and the offline queue of a running resilientd",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the offline queue now",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued operation",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Download the offline queue as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(statusCmd, syncCmd, clearCmd, exportCmd)
}

// adminTransport targets --admin-url, or localhost on the configured admin
// port when the flag is empty.
func adminTransport() *transport.HTTPTransport {
	base := adminURL
	header := "X-Api-Key"
	if cfg, err := config.Load(cfgPath); err == nil {
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", cfg.Admin.Port)
		}
		header = cfg.Admin.Auth.HeaderAPIKey
	}
	if base == "" {
		base = "http://localhost:8080"
	}

	opts := []transport.HTTPOption{transport.WithTimeout(30 * time.Second)}
	if apiKey != "" {
		opts = append(opts, transport.WithDefaultHeader(header, apiKey))
	}
	return transport.NewHTTPTransport(base, opts...)
}

func callAdmin(ctx context.Context, method models.Method, path string) (*transport.Response, error) {
	resp, err := adminTransport().Execute(ctx, transport.Request{Method: method, Target: path})
	if err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) && statusErr.Response != nil {
			return nil, fmt.Errorf("admin api %s %s: %w: %s", method, path, err, strings.TrimSpace(string(statusErr.Response.Body)))
		}
		return nil, fmt.Errorf("admin api %s %s: %w", method, path, err)
	}
	return resp, nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	resp, err := callAdmin(cmd.Context(), models.MethodGet, "/api/v1/queue")
	if err != nil {
		return err
	}
	var status models.QueueStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "online: %t\nqueued: %d\nsyncing: %t\n", status.Online, status.Length, status.InProgress)
	if len(status.Entries) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\tMETHOD\tTARGET\tPRIORITY\tCREATED\tRETRIES")
	for _, e := range status.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.Method, e.Target, e.Priority, e.CreatedAt.Local().Format(time.DateTime), e.Retries)
	}
	return w.Flush()
}

func runSync(cmd *cobra.Command, _ []string) error {
	resp, err := callAdmin(cmd.Context(), models.MethodPost, "/api/v1/queue/sync")
	if err != nil {
		return err
	}
	var res models.SyncResult
	if err := json.Unmarshal(resp.Body, &res); err != nil {
		return fmt.Errorf("decode sync result: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "synced: %d, failed: %d\n", res.Success, res.Failed)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	resp, err := callAdmin(cmd.Context(), models.MethodDelete, "/api/v1/queue")
	if err != nil {
		return err
	}
	var body struct {
		Cleared int `json:"cleared"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return fmt.Errorf("decode clear result: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %d operations\n", body.Cleared)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	resp, err := callAdmin(cmd.Context(), models.MethodGet, "/api/v1/queue/export")
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], resp.Body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported queue to %s (%d bytes)\n", args[0], len(resp.Body))
	return nil
}
