/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bookloan/apiserver/config"
	"github.com/bookloan/apiserver/internal/logging"
	"github.com/bookloan/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect lifecycle events",
}

// eventsTailCmd logs every event published on the configured channel
// until interrupted.
var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log transaction events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.Setup(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer queue.Close()

		logger.Info().Str("backend", cfg.MQ.Backend).Str("channel", cfg.MQ.Channel).Msg("tailing events")
		err = queue.Subscribe(ctx, cfg.MQ.Channel, func(ctx context.Context, msg mq.Message) error {
			event := logger.Info().Str("id", msg.ID).Str("type", msg.Attributes["type"])
			if json.Valid(msg.Data) {
				event = event.RawJSON("payload", msg.Data)
			} else {
				event = event.Bytes("payload", msg.Data)
			}
			event.Msg("event")
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
