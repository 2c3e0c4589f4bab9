package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/food-delivery/internal/dispatch"
	"github.com/vasiliy-maslov/food-delivery/internal/stoplist"
	"golang.org/x/sync/errgroup"
)

func workerCmd() *cobra.Command {
	var withoutStopLists bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume order submissions and refresh stop-lists on schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			writer := dispatch.NewKafkaWriter(a.cfg.Kafka.Brokers, a.cfg.Kafka.SubmitTopic)
			queue := dispatch.NewKafkaQueue(writer)
			defer queue.Close()

			reader := dispatch.NewKafkaReader(a.cfg.Kafka.Brokers, a.cfg.Kafka.SubmitTopic, a.cfg.Kafka.GroupID)
			defer reader.Close()

			rdb := dispatch.NewRedisClient(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
			defer rdb.Close()

			worker := dispatch.NewWorker(reader, a.orderService(queue), dispatch.NewRedisLocker(rdb, a.cfg.Dispatch.LockTTL),
				dispatch.WorkerConfig{MaxAttempts: a.cfg.Dispatch.MaxAttempts, RetryDelay: a.cfg.Dispatch.RetryDelay})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return worker.Run(gctx) })
			if !withoutStopLists {
				scheduler := stoplist.NewScheduler(a.stopLists, a.cfg.StopList.Tick)
				g.Go(func() error { return scheduler.Run(gctx) })
			}

			err = g.Wait()
			log.Info().Msg("Worker stopped")
			return err
		},
	}

	cmd.Flags().BoolVar(&withoutStopLists, "no-stop-lists", false, "do not run the stop-list scheduler")
	return cmd
}
