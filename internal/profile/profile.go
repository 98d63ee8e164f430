// Package profile stores staff and customer profiles and their visit
// history in an embedded badger database.
package profile

import (
	"strings"
	"time"

	"github.com/novadristi/greeter/internal/detection"
	apperrors "github.com/novadristi/greeter/internal/errors"
)

// Category partitions profiles.
type Category string

const (
	Staff    Category = "staff"
	Customer Category = "customer"
)

// ParseCategory accepts singular and plural spellings.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "staff":
		return Staff, nil
	case "customer", "customers":
		return Customer, nil
	default:
		return "", apperrors.Newf(apperrors.CodeInvalidArgument, "unknown profile category %q", s)
	}
}

// ForClassification maps a known detection onto its profile category.
func ForClassification(c detection.Classification) (Category, bool) {
	switch c {
	case detection.Staff:
		return Staff, true
	case detection.Customer:
		return Customer, true
	default:
		return "", false
	}
}

// Profile is a stored person.
type Profile struct {
	ID         string    `json:"id" msgpack:"id"`
	Category   Category  `json:"category" msgpack:"category"`
	Name       string    `json:"name" msgpack:"name"`
	SystemName string    `json:"systemName,omitempty" msgpack:"system_name,omitempty"`
	Phone      string    `json:"phone,omitempty" msgpack:"phone,omitempty"`
	Address    string    `json:"address,omitempty" msgpack:"address,omitempty"`
	ImagePath  string    `json:"imagePath,omitempty" msgpack:"image_path,omitempty"`
	VisitCount int       `json:"visitCount" msgpack:"visit_count"`
	LastVisit  time.Time `json:"lastVisit" msgpack:"last_visit"`
}

// Visit is one logged arrival.
type Visit struct {
	ProfileID string    `json:"profileId" msgpack:"profile_id"`
	Name      string    `json:"name" msgpack:"name"`
	Category  Category  `json:"category" msgpack:"category"`
	Time      time.Time `json:"time" msgpack:"time"`
}

// NormalizeID turns a display or system name into a storage id.
func NormalizeID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func (p *Profile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "profile name is required")
	}
	if _, err := ParseCategory(string(p.Category)); err != nil {
		return err
	}
	return nil
}

// key derives the id from the system name when set, else the display name.
func (p *Profile) key() string {
	if p.SystemName != "" {
		return NormalizeID(p.SystemName)
	}
	return NormalizeID(p.Name)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
