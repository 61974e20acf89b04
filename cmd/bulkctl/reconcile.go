package main

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/queue"
	"github.com/kursadbilgin/bulkjob-engine/internal/relay"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"github.com/kursadbilgin/bulkjob-engine/internal/service"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Finalize jobs that stopped making progress",
		Long: `Runs one stale-job sweep. Jobs not updated within --stale-after have
their missing rows counted as failures and are moved to a terminal status.
Completion events are relayed when RELAY_BASE_URL is set; report requests are
published when RABBITMQ_URL is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.close()

			var rel relay.Relay = relay.Nop{}
			if s.cfg.RelayBaseURL != "" {
				client, err := relay.NewClient(s.cfg.RelayBaseURL, s.cfg.RelayInternalSecret, s.cfg.relayTimeout())
				if err != nil {
					return err
				}
				rel = relay.NewSyncRelay(client, s.cfg.relayTimeout(), s.logger)
			}

			var reports service.ReportPublisher
			if s.cfg.RabbitMQURL != "" {
				broker, err := queue.NewRabbitMQ(s.cfg.RabbitMQURL, s.logger)
				if err != nil {
					return err
				}
				defer broker.Close()
				reports = queue.NewRabbitMQPublisher(broker)
			}

			jobs := repository.NewGormBulkJobRepo(s.db)
			recorder := service.NewRecorder(service.NewTracker(jobs), service.NewCoordinator(jobs), rel, reports, s.logger)
			reconciler, err := service.NewReconciler(jobs, recorder, staleAfter, 0, s.logger)
			if err != nil {
				return err
			}

			finalized, err := reconciler.Sweep(cmd.Context(), staleAfter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale job(s) finalized\n", finalized)
			return nil
		},
	}

	cmd.Flags().DurationVar(&staleAfter, "stale-after", time.Hour, "finalize jobs with no progress for this long")
	return cmd
}
