package model

import (
	"regexp"

	"github.com/iliyamo/campus-shuttle/internal/store"
)

// StatusCategory is the self-reported whereabouts of a checked-in rider.
type StatusCategory string

const (
	StatusInClass StatusCategory = "in_class"
	StatusWaiting StatusCategory = "waiting"
	StatusOnBus   StatusCategory = "on_bus"
)

// StatusCategories lists every category in display order.
var StatusCategories = []StatusCategory{StatusInClass, StatusWaiting, StatusOnBus}

// Valid reports whether c is one of the enumerated categories.
func (c StatusCategory) Valid() bool {
	for _, k := range StatusCategories {
		if c == k {
			return true
		}
	}
	return false
}

// Label returns the human readable name of the category.
func (c StatusCategory) Label() string {
	switch c {
	case StatusInClass:
		return "In class"
	case StatusWaiting:
		return "Waiting"
	case StatusOnBus:
		return "On bus"
	}
	return string(c)
}

// Field names of rider documents shared by the aggregator, the identity
// provider and the access rules.
const (
	FieldVehicle   = "vehicle_id"
	FieldStatusTag = "status_tag"
)

// RidersCollection is the collection holding one profile document per user.
const RidersCollection = "riders"

// RiderPath returns the document path of a rider's profile.
func RiderPath(riderID string) string {
	return store.Join(RidersCollection, riderID)
}

// RiderStatus is the part of a rider document the status aggregator reads.
//
// Fields:
//  RiderID   – document id, equal to the user id.
//  VehicleID – vehicle the rider is checked into; empty when none.
//  Status    – reported category; meaningful only with a vehicle.
type RiderStatus struct {
	RiderID   string
	VehicleID string
	Status    StatusCategory
}

// RiderStatusFromDocument decodes the status part of a rider document.
func RiderStatusFromDocument(d store.Document) RiderStatus {
	return RiderStatus{
		RiderID:   d.ID,
		VehicleID: d.Fields.String(FieldVehicle),
		Status:    StatusCategory(d.Fields.String(FieldStatusTag)),
	}
}

// Profile is the full rider document as shown on the profile screen.
type Profile struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Role          string         `json:"role"`
	Email         string         `json:"email,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	TaxID         string         `json:"tax_id,omitempty"`
	Campus        string         `json:"campus,omitempty"`
	Term          string         `json:"term,omitempty"`
	Shift         string         `json:"shift,omitempty"`
	Weekdays      string         `json:"weekdays,omitempty"`
	LicenseNumber string         `json:"license_number,omitempty"`
	VehicleID     string         `json:"vehicle_id,omitempty"`
	StatusTag     StatusCategory `json:"status_tag,omitempty"`
}

// ProfileFromDocument decodes a rider document.
func ProfileFromDocument(d store.Document) Profile {
	f := d.Fields
	return Profile{
		ID:            d.ID,
		Name:          f.String("name"),
		Role:          f.String("role"),
		Email:         f.String("email"),
		Phone:         f.String("phone"),
		TaxID:         FormatTaxID(f.String("tax_id")),
		Campus:        f.String("campus"),
		Term:          f.String("term"),
		Shift:         f.String("shift"),
		Weekdays:      f.String("weekdays"),
		LicenseNumber: f.String("license_number"),
		VehicleID:     f.String(FieldVehicle),
		StatusTag:     StatusCategory(f.String(FieldStatusTag)),
	}
}

var nonDigits = regexp.MustCompile(`\D`)

// FormatTaxID renders an 11-digit CPF as 000.000.000-00. Anything else is
// returned unchanged.
func FormatTaxID(raw string) string {
	d := nonDigits.ReplaceAllString(raw, "")
	if len(d) != 11 {
		return raw
	}
	return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11]
}
