package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/securetalk/internal/model"
)

type chatJSON struct {
	ID           model.ID          `json:"id"`
	Users        []json.RawMessage `json:"users"`
	LastMessage  json.RawMessage   `json:"last_message"`
	ChatName     string            `json:"chatName"`
	ContactImage *string           `json:"contactImage"`
	CreatedAt    model.Timestamp   `json:"createdAt"`
	UpdatedAt    model.Timestamp   `json:"updatedAt"`
	UnreadCount  int               `json:"unreadCount"`
}

// decodeChat validates a server chat and normalizes it to a ChatSummary.
// last_message must be a string or null; anything else is rejected.
func decodeChat(raw json.RawMessage) (model.ChatSummary, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return model.ChatSummary{}, errors.New("missing chat")
	}
	var in chatJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return model.ChatSummary{}, err
	}
	if in.ID == "" {
		return model.ChatSummary{}, errors.New("missing id")
	}

	out := model.ChatSummary{
		ID:          string(in.ID),
		ChatName:    in.ChatName,
		UpdatedAt:   time.Time(in.UpdatedAt),
		UnreadCount: max(in.UnreadCount, 0),
	}
	if in.ContactImage != nil {
		out.ContactImage = *in.ContactImage
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Time(in.CreatedAt)
	}
	if out.UpdatedAt.IsZero() {
		return model.ChatSummary{}, fmt.Errorf("chat %s: missing updatedAt", in.ID)
	}

	if len(in.LastMessage) > 0 && string(in.LastMessage) != "null" {
		if err := json.Unmarshal(in.LastMessage, &out.LastMessage); err != nil {
			return model.ChatSummary{}, fmt.Errorf("chat %s: last_message is not a string", in.ID)
		}
	}

	for _, u := range in.Users {
		id, err := participantID(u)
		if err != nil {
			return model.ChatSummary{}, fmt.Errorf("chat %s: %w", in.ID, err)
		}
		out.Users = append(out.Users, id)
	}
	return out, nil
}

// participantID accepts a user object or a bare id.
func participantID(raw json.RawMessage) (string, error) {
	var u struct {
		ID model.ID `json:"id"`
	}
	if err := json.Unmarshal(raw, &u); err == nil && u.ID != "" {
		return string(u.ID), nil
	}
	var id model.ID
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", fmt.Errorf("bad participant %s", raw)
	}
	return string(id), nil
}
