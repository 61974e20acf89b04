package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"github.com/spf13/cobra"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect bulk jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a job with its counters and error summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.close()

			job, err := repository.NewGormBulkJobRepo(s.db).GetByID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load job %s: %w", args[0], err)
			}
			return renderJob(cmd.OutOrStdout(), job)
		},
	})

	return cmd
}

type jobView struct {
	ID                 string            `json:"id"`
	OwnerID            string            `json:"ownerId"`
	JobType            domain.JobType    `json:"jobType"`
	Status             domain.JobStatus  `json:"status"`
	TotalItems         int               `json:"totalItems"`
	ProcessedItems     int               `json:"processedItems"`
	SuccessCount       int               `json:"successCount"`
	FailureCount       int               `json:"failureCount"`
	ProgressPercentage float64           `json:"progressPercentage"`
	ErrorSummary       []domain.RowError `json:"errorSummary"`
	ResultFileURL      *string           `json:"resultFileUrl,omitempty"`
}

func renderJob(w io.Writer, job *domain.BulkJob) error {
	view := jobView{
		ID:                 job.ID,
		OwnerID:            job.OwnerID,
		JobType:            job.JobType,
		Status:             job.Status,
		TotalItems:         job.TotalItems,
		ProcessedItems:     job.ProcessedItems,
		SuccessCount:       job.SuccessCount,
		FailureCount:       job.FailureCount,
		ProgressPercentage: job.Counters().Percentage(),
		ErrorSummary:       job.ErrorSummary,
		ResultFileURL:      job.ResultFileURL,
	}
	if view.ErrorSummary == nil {
		view.ErrorSummary = []domain.RowError{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
