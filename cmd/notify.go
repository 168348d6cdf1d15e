/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hub-api/apiserver/config"
	"github.com/hub-api/apiserver/internal/mq"
	"github.com/hub-api/apiserver/internal/server"
	"github.com/hub-api/apiserver/internal/services"
	"github.com/hub-api/apiserver/types"
	"github.com/spf13/cobra"
)

// notifyCmd represents the notify command. It consumes post lifecycle
// events from the configured broker and logs them, standing in for a
// notification sender.
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Listen for published-post events",
	Long: `Listens on the post lifecycle channel and logs every event. Usage:

	hubapi notify
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := server.NewLogger()

		queue, err := server.NewQueue(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("MQ_BACKEND is required")
		}
		defer func() {
			_ = queue.Close()
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("listening for events", "channel", services.PublishedChannel)
		err = queue.Subscribe(ctx, services.PublishedChannel, func(ctx context.Context, msg mq.Message) error {
			var event types.PublishedEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			logger.Info("post published",
				"postId", event.PostID,
				"title", event.Title,
				"authorId", event.AuthorID,
				"publishedAt", event.PublishedAt,
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}
