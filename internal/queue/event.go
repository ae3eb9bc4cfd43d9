// Package queue defines the events exchanged over RabbitMQ and the audit
// consumer that records them.
package queue

import (
	"fmt"
	"strconv"
)

// SeatChangedEvent is published after a seat was claimed or released.
type SeatChangedEvent struct {
	VehicleID  string `json:"vehicle_id"`
	SeatID     string `json:"seat_id"`
	RiderID    string `json:"rider_id"`
	Action     string `json:"action"` // claimed | released
	Mode       string `json:"mode"`
	OccurredAt string `json:"occurred_at"`
}

// Line renders the event as one audit log line.
func (e SeatChangedEvent) Line() string {
	return fmt.Sprintf("[%s] Seat %s | vehicle=%s | seat=%s | rider=%s | mode=%s\n",
		e.OccurredAt, e.Action, e.VehicleID, e.SeatID, e.RiderID, e.Mode)
}

// AlertPostedEvent is published after an operator posted on a channel.
type AlertPostedEvent struct {
	Channel    string `json:"channel"`
	MessageID  string `json:"message_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
	PostedAt   string `json:"posted_at"`
}

// Line renders the event as one audit log line. The text is quoted so a
// message cannot break the one-event-per-line layout.
func (e AlertPostedEvent) Line() string {
	return fmt.Sprintf("[%s] Alert posted | channel=%q | message_id=%s | author=%s (%s) | text=%s\n",
		e.PostedAt, e.Channel, e.MessageID, e.AuthorName, e.AuthorID, strconv.Quote(e.Text))
}
