// Command dlqctl inspects the dead letter queue and replays its messages.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/config"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

type deadLetter struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
	Payload    string            `json:"payload"`
}

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "dlqctl",
		Short:        "Inspect and replay dead-lettered dispatcher messages",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Configuration file")

	rootCmd.AddCommand(listCmd(&configPath))
	rootCmd.AddCommand(replayCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func open(configPath string) (config.Config, *redis.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	rdb, err := queue.Connect(cfg.Redis.Addr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, rdb, nil
}

func listCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print waiting dead letters as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rdb, err := open(*configPath)
			if err != nil {
				return err
			}
			defer rdb.Close()
			msgs, err := queue.NewRedis(rdb, cfg.Queues.DeadLetter, cfg.Redis.Lease).Peek(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, m := range msgs {
				if err := enc.Encode(deadLetter{ID: m.ID, Attributes: m.Attributes, Payload: string(m.Payload)}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum messages")
	return cmd
}

func replayCmd(configPath *string) *cobra.Command {
	var (
		target   string
		consumer string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Move dead letters back to a dispatcher queue",
		Long: `Move dead letters back to a dispatcher queue. Each payload is sent
unchanged and removed from the dead letter queue once the send succeeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rdb, err := open(*configPath)
			if err != nil {
				return err
			}
			defer rdb.Close()
			if target == "" {
				return fmt.Errorf("--to is required")
			}
			dead := queue.NewRedis(rdb, cfg.Queues.DeadLetter, cfg.Redis.Lease)
			to := queue.NewRedis(rdb, target, cfg.Redis.Lease)
			n, err := replay(cmd.Context(), dead, to, consumer, limit, cfg.Queues.TransientTTL)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d messages to %s\n", n, target)
			return err
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "Destination queue name")
	cmd.Flags().StringVar(&consumer, "consumer", "", "Only replay messages dead-lettered by this consumer")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum messages")
	return cmd
}
