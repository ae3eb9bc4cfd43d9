package model

import (
	"strings"

	"github.com/iliyamo/campus-shuttle/internal/store"
)

// SeatStatus is the occupancy state of a seat.
type SeatStatus string

const (
	SeatFree     SeatStatus = "free"
	SeatOccupied SeatStatus = "occupied"
)

// Seat is one reservation slot of a vehicle, stored at
// vehicles/{vehicleID}/seats/{ID}.
//
// Fields:
//  ID       – seat label, unique within the vehicle (e.g. "4B").
//  Status   – free or occupied.
//  Occupant – rider holding the seat; empty unless occupied.
type Seat struct {
	ID       string     `json:"id"`
	Status   SeatStatus `json:"status"`
	Occupant string     `json:"occupant,omitempty"`
}

// Occupied reports whether the seat is held by someone.
func (s Seat) Occupied() bool { return s.Status == SeatOccupied }

// SeatsCollection returns the collection path of a vehicle's seats.
func SeatsCollection(vehicleID string) string {
	return store.Join("vehicles", vehicleID, "seats")
}

// SeatPath returns the document path of one seat.
func SeatPath(vehicleID, seatID string) string {
	return store.Join("vehicles", vehicleID, "seats", seatID)
}

// SeatFromDocument decodes a seat document. Unknown statuses are read as
// free so a malformed document never blocks the seat map.
func SeatFromDocument(d store.Document) Seat {
	s := Seat{ID: d.ID, Status: SeatFree}
	if SeatStatus(strings.ToLower(d.Fields.String("status"))) == SeatOccupied {
		s.Status = SeatOccupied
		s.Occupant = d.Fields.String("occupant")
	}
	return s
}

// ClaimFields is the update that gives the seat to riderID.
func ClaimFields(riderID string) store.Fields {
	return store.Fields{"status": string(SeatOccupied), "occupant": riderID}
}

// ReleaseFields is the update that frees a seat.
func ReleaseFields() store.Fields {
	return store.Fields{"status": string(SeatFree), "occupant": nil}
}
