package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"FlowScope/internal/domain/models"
	internalrepo "FlowScope/internal/repository"
	"FlowScope/pkg/cache"
	applogger "FlowScope/pkg/logger"
	"FlowScope/pkg/queue"
)

func newWatchCmd() *cobra.Command {
	var addr, password, prefix string
	var db, workers int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Consume alert firings and insights from the Redis queue and print them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
			defer client.Close()

			q := queue.NewRedisQueue(applogger.NewWriter(cmd.ErrOrStderr()), client,
				queue.Config{Workers: workers}, queue.WithKeyPrefix(cache.Key(prefix, "queue")))
			registerPrinters(q, cmd.OutOrStdout())
			if err := q.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "redis", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&password, "password", "", "Redis password")
	cmd.Flags().IntVar(&db, "db", 0, "Redis database")
	cmd.Flags().StringVar(&prefix, "prefix", "flowscope", "key prefix the API publishes under")
	cmd.Flags().IntVar(&workers, "workers", 1, "queue workers")
	return cmd
}

type jobRegistry interface {
	RegisterJob(job queue.Job)
}

// registerPrinters writes one line per firing or insight.
func registerPrinters(q jobRegistry, w io.Writer) {
	var mu sync.Mutex
	emit := func(format string, a ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format, a...)
	}
	q.RegisterJob(queue.JobFunc{MsgType: internalrepo.MsgTypeFiring, Fn: func(_ context.Context, payload json.RawMessage) error {
		f, err := queue.Decode[models.Firing](payload)
		if err != nil {
			return err
		}
		emit("[%s] %s %s: %s\n", f.Severity, f.Coin, f.RuleID, f.Message)
		return nil
	}})
	q.RegisterJob(queue.JobFunc{MsgType: internalrepo.MsgTypeInsight, Fn: func(_ context.Context, payload json.RawMessage) error {
		ev, err := queue.Decode[models.InsightEvent](payload)
		if err != nil {
			return err
		}
		emit("[%s] %s: %s\n", ev.Type, ev.Coin, strings.Join(ev.Messages, "; "))
		return nil
	}})
}
