package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/sensorlink/internal/client"
)

// runAnalysis sends body synchronously, or as a job of kind when --async is set.
func runAnalysis(cmd *cobra.Command, cl *client.Client, kind string, body map[string]any, jf *jobFlags,
	sync func(context.Context, any) (json.RawMessage, error),
) error {
	ctx := cmd.Context()
	if !jf.async {
		out, err := sync(ctx, body)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
	ack, err := cl.SubmitJob(ctx, kind, body, jf.key)
	if err != nil {
		return err
	}
	if !jf.wait {
		return printJSON(cmd.OutOrStdout(), ack)
	}
	js, err := cl.WaitJob(ctx, ack.JobID, jf.poll)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), js)
}

func newRankCommand(cl **client.Client) *cobra.Command {
	var (
		wf          windowFlags
		jf          jobFlags
		focus       string
		candidates  []string
		scope       string
		sameUnit    bool
		sameType    bool
		noProviders bool
		polarity    string
		maxResults  int
		maxLag      int
		quick       bool
		lowConf     bool
		topK        int
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "rank sensors that move with a focus sensor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{
				"focus_sensor_id": focus,
				"filters": map[string]any{
					"scope":            scope,
					"same_unit":        sameUnit,
					"same_type":        sameType,
					"exclude_provider": noProviders,
				},
				"include_low_confidence": lowConf,
				"quick":                  quick,
			}
			if err := wf.apply(body, time.Now()); err != nil {
				return err
			}
			if len(candidates) > 0 {
				body["candidate_sensor_ids"] = candidates
			}
			if polarity != "" {
				body["polarity"] = polarity
			}
			if cmd.Flags().Changed("max-results") {
				body["max_results"] = maxResults
			}
			if cmd.Flags().Changed("max-lag-buckets") {
				body["max_lag_buckets"] = maxLag
			}
			if cmd.Flags().Changed("correlation-top-k") {
				body["correlation_top_k"] = topK
			}
			return runAnalysis(cmd, *cl, "rank", body, &jf, (*cl).Rank)
		},
	}
	wf.register(cmd)
	jf.register(cmd)
	cmd.Flags().StringVar(&focus, "focus", "", "focus sensor id")
	cmd.Flags().StringSliceVar(&candidates, "candidates", nil, "explicit candidate sensor ids")
	cmd.Flags().StringVar(&scope, "scope", "all", "candidate scope: all or node")
	cmd.Flags().BoolVar(&sameUnit, "same-unit", false, "only candidates with the focus unit")
	cmd.Flags().BoolVar(&sameType, "same-type", false, "only candidates with the focus type")
	cmd.Flags().BoolVar(&noProviders, "exclude-provider", false, "drop provider-fed sensors")
	cmd.Flags().StringVar(&polarity, "polarity", "", "event polarity: both, up or down")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "result cap")
	cmd.Flags().IntVar(&maxLag, "max-lag-buckets", 0, "lag search radius in buckets")
	cmd.Flags().IntVar(&topK, "correlation-top-k", 0, "attach a correlation matrix for the top K candidates")
	cmd.Flags().BoolVar(&quick, "quick", false, "use quick-mode defaults")
	cmd.Flags().BoolVar(&lowConf, "include-low-confidence", false, "keep low-confidence candidates")
	_ = cmd.MarkFlagRequired("focus")
	return cmd
}

func newCorrelateCommand(cl **client.Client) *cobra.Command {
	var (
		wf      windowFlags
		jf      jobFlags
		sensors []string
		method  string
	)
	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "pairwise correlation matrix for 2 to 20 sensors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{"sensor_ids": sensors}
			if method != "" {
				body["method"] = method
			}
			if err := wf.apply(body, time.Now()); err != nil {
				return err
			}
			return runAnalysis(cmd, *cl, "correlation", body, &jf, (*cl).Correlate)
		},
	}
	wf.register(cmd)
	jf.register(cmd)
	cmd.Flags().StringSliceVar(&sensors, "sensors", nil, "sensor ids in matrix order")
	cmd.Flags().StringVar(&method, "method", "", "pearson or spearman")
	_ = cmd.MarkFlagRequired("sensors")
	return cmd
}

func newPreviewCommand(cl **client.Client) *cobra.Command {
	var (
		wf        windowFlags
		focus     string
		candidate string
		lag       int64
		maxPoints int
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "chart series for a focus and candidate pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{"focus_sensor_id": focus, "candidate_sensor_id": candidate}
			if err := wf.apply(body, time.Now()); err != nil {
				return err
			}
			delete(body, "interval_seconds")
			if cmd.Flags().Changed("lag") {
				body["lag_seconds"] = lag
			}
			if cmd.Flags().Changed("max-points") {
				body["max_points"] = maxPoints
			}
			out, err := (*cl).Preview(cmd.Context(), body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	wf.register(cmd)
	cmd.Flags().StringVar(&focus, "focus", "", "focus sensor id")
	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate sensor id")
	cmd.Flags().Int64Var(&lag, "lag", 0, "candidate lag in seconds")
	cmd.Flags().IntVar(&maxPoints, "max-points", 0, "points per series")
	_ = cmd.MarkFlagRequired("focus")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

func newSensorsCommand(cl **client.Client) *cobra.Command {
	var node string
	cmd := &cobra.Command{
		Use:   "sensors",
		Short: "list the sensor catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := (*cl).Sensors(cmd.Context(), node)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "only sensors on this node")
	return cmd
}

func newJobCommand(cl **client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "inspect and cancel async jobs",
	}
	var poll time.Duration
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "poll a job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			js, err := (*cl).Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), js)
		},
	}
	wait := &cobra.Command{
		Use:   "wait <id>",
		Short: "poll a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			js, err := (*cl).WaitJob(cmd.Context(), args[0], poll)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), js)
		},
	}
	wait.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "poll interval")
	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			js, err := (*cl).CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), js)
		},
	}
	cmd.AddCommand(get, wait, cancel)
	return cmd
}
