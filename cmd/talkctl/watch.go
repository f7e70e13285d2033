package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		next, err := c.Watch(ctx)
		if err != nil {
			return err
		}
		for {
			evt, err := next()
			if err != nil {
				if errors.Is(err, io.EOF) || grpcstatus.Code(err) == codes.Canceled {
					return nil
				}
				return err
			}
			if jsonFlag {
				outputJSON(evt)
				continue
			}
			at := ""
			if ms, ok := evt["ts"].(float64); ok {
				at = time.UnixMilli(int64(ms)).Format("15:04:05")
			}
			fmt.Printf("%s %-24s %s\n", at, str(evt, "kind"), describe(evt))
		}
	},
}

func describe(evt map[string]any) string {
	payload, _ := evt["payload"].(map[string]any)
	switch str(evt, "kind") {
	case "notify.message":
		return fmt.Sprintf("%s: %s", str(payload, "title"), str(payload, "body"))
	case "session.status_changed":
		return fmt.Sprintf("%s -> %s", str(payload, "from"), str(payload, "to"))
	case "chats.updated":
		return fmt.Sprintf("%s chats", str(payload, "chats"))
	}
	if id := str(payload, "chat_id"); id != "" {
		return "chat " + id
	}
	return ""
}
