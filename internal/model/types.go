package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is an opaque identifier. The server emits integers; the cache stores strings.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: want string or number, got %s", s)
	}
	*id = ID(n.String())
	return nil
}

// JSONValue returns the id as a JSON number when it is numeric, the way the
// server stores ids, and as a string otherwise.
func (id ID) JSONValue() any {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return n
	}
	return string(id)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Timestamp is a time.Time that tolerates the formats the backend emits.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(tt.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if string(b) == "null" {
		*t = Timestamp{}
		return nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// ChatSummary is one row of the chat list.
type ChatSummary struct {
	ID           string    `json:"id"`
	ChatName     string    `json:"chatName"`
	ContactImage string    `json:"contactImage"`
	LastMessage  string    `json:"last_message"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UnreadCount  int       `json:"unreadCount"`
	Users        []string  `json:"users"`
}

// User is a contact or the signed-in account.
type User struct {
	ID             ID     `json:"id"`
	FullName       string `json:"fullName"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Email          string `json:"email,omitempty"`
	DateOfBirth    string `json:"date_of_birth,omitempty"`
	Gender         string `json:"gender,omitempty"`
}

// EntryKind discriminates grouped display entries.
type EntryKind string

const (
	EntryDate    EntryKind = "date"
	EntryMessage EntryKind = "message"
)

// Entry is a derived display row: a date separator or a message.
type Entry struct {
	Kind    EntryKind `json:"kind"`
	ID      string    `json:"id"`
	Label   string    `json:"label,omitempty"`
	Message *Message  `json:"message,omitempty"`
}
