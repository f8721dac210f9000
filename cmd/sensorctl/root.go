package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/sensorlink/internal/client"
)

// windowFlags are the time range flags shared by the analysis commands.
type windowFlags struct {
	start    string
	end      string
	last     time.Duration
	interval int64
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&w.end, "end", "", "window end (RFC3339)")
	cmd.Flags().DurationVar(&w.last, "last", 24*time.Hour, "window length ending now, used when --start is empty")
	cmd.Flags().Int64Var(&w.interval, "interval", 0, "bucket width in seconds (server default when 0)")
}

// resolve returns the [start, end) window; explicit bounds win over --last.
func (w *windowFlags) resolve(now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	if w.end != "" {
		t, err := time.Parse(time.RFC3339, w.end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
		}
		end = t
	}
	start := end.Add(-w.last)
	if w.start != "" {
		t, err := time.Parse(time.RFC3339, w.start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
		}
		start = t
	}
	return start, end, nil
}

func (w *windowFlags) apply(body map[string]any, now time.Time) error {
	start, end, err := w.resolve(now)
	if err != nil {
		return err
	}
	body["start"] = start.Format(time.RFC3339)
	body["end"] = end.Format(time.RFC3339)
	if w.interval > 0 {
		body["interval_seconds"] = w.interval
	}
	return nil
}

// jobFlags switch an analysis command to async submission.
type jobFlags struct {
	async bool
	wait  bool
	key   string
	poll  time.Duration
}

func (j *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&j.async, "async", false, "submit as a job instead of waiting on the request")
	cmd.Flags().BoolVar(&j.wait, "wait", false, "with --async, poll until the job finishes")
	cmd.Flags().StringVar(&j.key, "idempotency-key", "", "with --async, deduplicate submissions by this key")
	cmd.Flags().DurationVar(&j.poll, "poll", 500*time.Millisecond, "job poll interval")
}

// newRootCommand returns the sensorctl command tree.
func newRootCommand() *cobra.Command {
	var (
		url     string
		timeout time.Duration
		cl      *client.Client
	)

	cmd := &cobra.Command{
		Use:          "sensorctl",
		Short:        "sensorlink client and data seeder",
		Long:         `sensorctl seeds stores with synthetic sensor fleets and queries a sensorlink server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cl = client.New(url, client.WithTimeout(timeout))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&url, "url", "http://localhost:9080", "sensorlink server url")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	cmd.AddCommand(
		newSeedCommand(),
		newSensorsCommand(&cl),
		newRankCommand(&cl),
		newCorrelateCommand(&cl),
		newPreviewCommand(&cl),
		newJobCommand(&cl),
	)
	return cmd
}

// printJSON pretty-prints a JSON document or value.
func printJSON(w io.Writer, v any) error {
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw = b
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
