package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type Job struct {
	JobID        string `json:"job_id,omitempty"`
	ID           string `json:"id,omitempty"`
	DocumentID   string `json:"document_id"`
	State        string `json:"state,omitempty"`
	Status       string `json:"status,omitempty"`
	AttemptCount int    `json:"attempt_count,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	EnqueuedAt   string `json:"enqueued_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type IndexStats struct {
	Generation uint64 `json:"generation"`
	Active     int    `json:"active"`
	Inactive   int    `json:"inactive"`
	Dimension  int    `json:"dimension"`
}

type IntegrityReport struct {
	OK          bool     `json:"ok"`
	IndexActive int      `json:"index_active"`
	Expected    int      `json:"expected"`
	Drift       int      `json:"drift"`
	Issues      []string `json:"issues"`
	Rebuilt     bool     `json:"rebuilt"`
	Generation  uint64   `json:"generation"`
	CheckedAt   string   `json:"checked_at"`
}

// AdminCmd groups index and queue maintenance commands.
func AdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Index and queue maintenance",
	}

	cmd.AddCommand(indexStatsCmd())
	cmd.AddCommand(compactCmd())
	cmd.AddCommand(integrityCmd())
	cmd.AddCommand(deadLettersCmd())
	cmd.AddCommand(redriveCmd())
	cmd.AddCommand(feedSyncCmd())

	return cmd
}

func indexStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Show vector index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexStats(cmd, false)
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Drop deactivated entries from the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexStats(cmd, true)
		},
	}
}

func runIndexStats(cmd *cobra.Command, compact bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	var resp *APIResponse
	if compact {
		resp, err = api.Post("/admin/index/compact", nil)
	} else {
		resp, err = api.Get("/admin/index")
	}
	if err != nil {
		return err
	}

	var stats IndexStats
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		return fmt.Errorf("failed to parse index stats: %w", err)
	}
	if wantsJSON(cmd) {
		return printJSON(stats)
	}
	fmt.Printf("Generation: %d\nActive:     %d\nInactive:   %d\nDimension:  %d\n",
		stats.Generation, stats.Active, stats.Inactive, stats.Dimension)
	return nil
}

func integrityCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Compare the vector index with the chunk table",
		Long:  "Checks index drift and rebuilds the index when it exceeds the configured tolerance. --rebuild forces a rebuild.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			path := "/admin/integrity/check"
			if rebuild {
				path = "/admin/integrity/rebuild"
			}
			resp, err := api.Post(path, nil)
			if err != nil {
				return err
			}

			var report IntegrityReport
			if err := json.Unmarshal(resp.Data, &report); err != nil {
				return fmt.Errorf("failed to parse report: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(report)
			}
			state := "ok"
			if !report.OK {
				state = "drifted"
			}
			fmt.Printf("Index %s: %d active, %d expected (drift %d)\n", state, report.IndexActive, report.Expected, report.Drift)
			if report.Rebuilt {
				fmt.Printf("Rebuilt at generation %d\n", report.Generation)
			}
			for _, issue := range report.Issues {
				fmt.Printf("  - %s\n", issue)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the index unconditionally")
	return cmd
}

func deadLettersCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List ingestion jobs that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Get("/admin/dead-letters?limit=" + strconv.Itoa(limit))
			if err != nil {
				return err
			}
			var dead []Job
			if err := json.Unmarshal(resp.Data, &dead); err != nil {
				return fmt.Errorf("failed to parse jobs: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(dead)
			}
			if len(dead) == 0 {
				fmt.Println("No dead-lettered jobs.")
				return nil
			}
			for _, j := range dead {
				fmt.Printf("%s  document %s  attempts %d\n   %s\n", j.ID, j.DocumentID, j.AttemptCount, truncate(j.LastError, 160))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	return cmd
}

func redriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redrive <job-id>",
		Short: "Return a dead-lettered job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post("/admin/dead-letters/"+url.PathEscape(args[0])+"/redrive", nil)
			if err != nil {
				return err
			}
			var job Job
			if err := json.Unmarshal(resp.Data, &job); err != nil {
				return fmt.Errorf("failed to parse job: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(job)
			}
			fmt.Printf("Job %s queued again for document %s\n", job.ID, job.DocumentID)
			return nil
		},
	}
}

func feedSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed-sync",
		Short: "Pull new documents from the literature feed now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post("/admin/feed/sync", nil)
			if err != nil {
				return err
			}
			var result struct {
				Fetched    int `json:"fetched"`
				Submitted  int `json:"submitted"`
				Duplicates int `json:"duplicates"`
				Failed     int `json:"failed"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(result)
			}
			fmt.Printf("Fetched %d, submitted %d, duplicates %d, failed %d\n",
				result.Fetched, result.Submitted, result.Duplicates, result.Failed)
			return nil
		},
	}
}
