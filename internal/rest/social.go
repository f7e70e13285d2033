package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/matheus3301/securetalk/internal/model"
)

// Contacts lists every user the signed-in user can chat with.
func (c *Client) Contacts(ctx context.Context) ([]model.User, error) {
	var resp struct {
		Users *[]model.User `json:"users"`
	}
	if err := c.do(ctx, "contacts", http.MethodGet, "/social/contacts", true, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Users == nil {
		return nil, malformed("contacts", http.StatusOK, "missing users")
	}
	return *resp.Users, nil
}

// Chats fetches the authoritative chat list.
func (c *Client) Chats(ctx context.Context) ([]model.ChatSummary, error) {
	var resp struct {
		Chats *[]json.RawMessage `json:"chats"`
	}
	if err := c.do(ctx, "chats", http.MethodGet, "/social/chats", true, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Chats == nil {
		return nil, malformed("chats", http.StatusOK, "missing chats")
	}
	chats := make([]model.ChatSummary, 0, len(*resp.Chats))
	for i, raw := range *resp.Chats {
		chat, err := decodeChat(raw)
		if err != nil {
			return nil, malformed("chats", http.StatusOK, "chat %d: %v", i, err)
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// CreateChat opens (or finds) the one-to-one chat with a contact.
func (c *Client) CreateChat(ctx context.Context, contactID string) (model.ChatSummary, bool, error) {
	var resp struct {
		Chat  json.RawMessage `json:"chat"`
		IsNew bool            `json:"isNew"`
	}
	body := map[string]any{"contactId": model.ID(contactID).JSONValue()}
	if err := c.do(ctx, "create chat", http.MethodPost, "/social/chats/create", true, body, &resp); err != nil {
		return model.ChatSummary{}, false, err
	}
	chat, err := decodeChat(resp.Chat)
	if err != nil {
		return model.ChatSummary{}, false, malformed("create chat", http.StatusOK, "%v", err)
	}
	return chat, resp.IsNew, nil
}

// Messages fetches a chat's full history. me is the current user's id.
func (c *Client) Messages(ctx context.Context, chatID, me string) ([]model.Message, error) {
	var resp struct {
		Messages *[]json.RawMessage `json:"messages"`
	}
	path := "/social/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.do(ctx, "messages", http.MethodGet, path, true, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return nil, malformed("messages", http.StatusOK, "missing messages")
	}
	msgs := make([]model.Message, 0, len(*resp.Messages))
	for i, raw := range *resp.Messages {
		m, err := model.DecodeMessage(raw, me)
		if err != nil {
			return nil, malformed("messages", http.StatusOK, "message %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// SendMessage posts a new message. It returns the server's record and the
// raw JSON, which is relayed verbatim to other clients of the chat.
func (c *Client) SendMessage(ctx context.Context, chatID, content, me string) (model.Message, json.RawMessage, error) {
	var resp struct {
		Message json.RawMessage `json:"message"`
	}
	path := "/social/chats/" + url.PathEscape(chatID) + "/new_message"
	body := map[string]string{"content": content}
	if err := c.do(ctx, "send message", http.MethodPost, path, true, body, &resp); err != nil {
		return model.Message{}, nil, err
	}
	m, err := model.DecodeMessage(resp.Message, me)
	if err != nil {
		return model.Message{}, nil, malformed("send message", http.StatusCreated, "%v", err)
	}
	return m, resp.Message, nil
}

// MarkChatRead marks every message of the chat addressed to the user as read.
func (c *Client) MarkChatRead(ctx context.Context, chatID string) error {
	path := "/social/chats/" + url.PathEscape(chatID) + "/messages/mark_as_read"
	return c.do(ctx, "mark as read", http.MethodPost, path, true, nil, nil)
}
