package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwork/booking-ledger/internal/pkg/queue"
)

func dlqCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage dead-lettered refund jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "requeue",
		Short: "Move dead-lettered jobs back to the ready queue (redis driver)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, closeQueue, err := a.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer closeQueue()

			rq, ok := jobs.(*queue.RedisQueue)
			if !ok {
				return errors.New("dlq requeue needs the redis queue driver; use the SQS redrive for sqs")
			}
			moved, err := rq.Requeue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "requeued %d job(s)\n", moved)
			return nil
		},
	})
	return cmd
}
