package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vclip/server/internal/model"
	"vclip/server/internal/timecode"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List persisted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := loadJobs(cmd, ctx)
			if err != nil {
				return err
			}
			if statusFilter != "" {
				filtered := jobs[:0]
				for _, j := range jobs {
					if strings.EqualFold(string(j.Status), statusFilter) {
						filtered = append(filtered, j)
					}
				}
				jobs = filtered
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(jobs, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show jobs with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")
	cmd.AddCommand(newJobShowCommand(ctx))
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job and its clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := loadJobs(cmd, ctx)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				if j.ID == args[0] {
					fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(j, time.Now()))
					return nil
				}
			}
			return fmt.Errorf("job %s not found", args[0])
		},
	}
}

func loadJobs(cmd *cobra.Command, ctx *commandContext) ([]model.Job, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	persister, closePersister, err := openPersister(cmd.Context(), cfg, ctx.logger())
	if err != nil {
		return nil, err
	}
	defer closePersister()
	jobs, err := persister.Load(cmd.Context())
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func renderJobsTable(jobs []model.Job, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			string(j.Status),
			string(j.CurrentStep),
			fmt.Sprintf("%.0f%%", j.Progress),
			fmt.Sprintf("%d", len(j.Clips)),
			humanize.RelTime(j.UpdatedAt, now, "ago", "from now"),
			truncate(j.Error, 40),
		})
	}
	return renderTable(
		[]string{"Job", "Status", "Step", "Progress", "Clips", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func renderJobDetail(j model.Job, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:      %s\n", j.ID)
	fmt.Fprintf(&b, "Source:   %s\n", j.SourceURL)
	fmt.Fprintf(&b, "Status:   %s (%s, %.0f%%)\n", j.Status, j.CurrentStep, j.Progress)
	fmt.Fprintf(&b, "Message:  %s\n", j.Message)
	if j.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", j.Error)
	}
	fmt.Fprintf(&b, "Created:  %s\n", humanize.RelTime(j.CreatedAt, now, "ago", "from now"))
	if len(j.Clips) == 0 {
		b.WriteString("Clips:    none\n")
		return b.String()
	}
	rows := make([][]string, 0, len(j.Clips))
	for _, c := range j.Clips {
		rows = append(rows, []string{
			c.ID,
			truncate(c.Title, 40),
			timecode.FormatClock(c.StartTime),
			timecode.FormatClock(c.EndTime),
			fmt.Sprintf("%.1fs", c.Duration),
			c.FilePath,
		})
	}
	b.WriteString(renderTable(
		[]string{"Clip", "Title", "Start", "End", "Length", "File"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
