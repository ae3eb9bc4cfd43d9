package model

import (
	"time"

	"github.com/iliyamo/campus-shuttle/internal/store"
)

// TimestampLayout is a fixed-width UTC layout, so timestamps stored as
// strings sort chronologically.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// AlertMessage is one broadcast on an alert channel, stored at
// channels/{channel}/messages/{ID}.
type AlertMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessagesCollection returns the collection path of a channel's messages.
func MessagesCollection(channel string) string {
	return store.Join("channels", channel, "messages")
}

// AlertFromDocument decodes a message document.
func AlertFromDocument(d store.Document) AlertMessage {
	m := AlertMessage{
		ID:         d.ID,
		Text:       d.Fields.String("text"),
		AuthorID:   d.Fields.String("author_id"),
		AuthorName: d.Fields.String("author_name"),
	}
	if t, err := time.Parse(TimestampLayout, d.Fields.String("created_at")); err == nil {
		m.CreatedAt = t
	}
	return m
}

// Fields encodes m for storage; the id is assigned by the store.
func (m AlertMessage) Fields() store.Fields {
	return store.Fields{
		"text":        m.Text,
		"author_id":   m.AuthorID,
		"author_name": m.AuthorName,
		"created_at":  FormatTimestamp(m.CreatedAt),
	}
}
