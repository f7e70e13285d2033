package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatsCmd, refreshCmd, contactsCmd, newChatCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats [query]",
	Short: "List chats, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{}
		if len(args) == 1 {
			req["query"] = args[0]
		}
		return call("ListChats", req, printChats)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch the chat list from the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("RefreshChats", nil, printChats)
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List contacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("ListContacts", nil, func(m map[string]any) {
			users := list(m, "users")
			if len(users) == 0 {
				fmt.Println("No contacts.")
				return
			}
			for _, u := range users {
				fmt.Printf("%-8s %s\n", str(u, "id"), str(u, "fullName"))
			}
		})
	},
}

var newChatCmd = &cobra.Command{
	Use:   "new <contact-id>",
	Short: "Start a chat with a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("CreateChat", map[string]any{"contact_id": args[0]}, func(m map[string]any) {
			chat, _ := m["chat"].(map[string]any)
			verb := "Opened existing"
			if m["is_new"] == true {
				verb = "Created"
			}
			fmt.Printf("%s chat %s with %s\n", verb, str(chat, "id"), str(chat, "chatName"))
		})
	},
}

func printChats(m map[string]any) {
	chats := list(m, "chats")
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, c := range chats {
		unread := ""
		if n := str(c, "unreadCount"); n != "" && n != "0" {
			unread = fmt.Sprintf(" (%s unread)", n)
		}
		last := strings.ReplaceAll(str(c, "last_message"), "\n", " ")
		fmt.Printf("%-8s %-24s %s%s\n", str(c, "id"), str(c, "chatName"), last, unread)
	}
}
