package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(openCmd, closeCmd, threadCmd, sendCmd, retryCmd)
}

var openCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Open a chat: join its stream, load history and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("OpenChat", map[string]any{"chat_id": args[0]}, printEntries)
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <chat-id>",
	Short: "Close an open chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("CloseChat", map[string]any{"chat_id": args[0]}, func(map[string]any) {
			fmt.Printf("Closed chat %s\n", args[0])
		})
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread <chat-id>",
	Short: "Show an open chat's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("GetThread", map[string]any{"chat_id": args[0]}, printEntries)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>...",
	Short: "Send a message to an open chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"chat_id": args[0], "text": strings.Join(args[1:], " ")}
		return call("SendText", req, printSent)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <chat-id> <client-id>",
	Short: "Resend a message that failed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("client id: %w", err)
		}
		return call("RetryMessage", map[string]any{"chat_id": args[0], "client_id": clientID}, printSent)
	},
}

func printSent(m map[string]any) {
	msg, _ := m["message"].(map[string]any)
	fmt.Printf("Sent message %s\n", str(msg, "id"))
}

func printEntries(m map[string]any) {
	entries := list(m, "entries")
	if len(entries) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, e := range entries {
		if str(e, "kind") == "date" {
			fmt.Printf("-- %s --\n", str(e, "label"))
			continue
		}
		msg, _ := e["message"].(map[string]any)
		printMessage(msg)
	}
}

func printMessage(msg map[string]any) {
	at := ""
	if t, err := time.Parse(time.RFC3339Nano, str(msg, "createdAt")); err == nil {
		at = t.Local().Format("15:04")
	}
	who := "me"
	if msg["isFromCurrentUser"] != true {
		sender, _ := msg["sender"].(map[string]any)
		who = str(sender, "fullName")
	}
	mark := ""
	switch str(msg, "status") {
	case "loading":
		mark = " …"
	case "error":
		mark = fmt.Sprintf(" [failed, retry with id %s]", str(msg, "id"))
	case "read":
		if msg["isFromCurrentUser"] == true {
			mark = " ✓✓"
		}
	}
	fmt.Printf("[%s] %s: %s%s\n", at, who, str(msg, "content"), mark)
}
