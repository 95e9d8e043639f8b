// Package patient turns a FHIR searchset bundle into Patient records and
// prints them as a fixed-width table.
package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	fhirtime "github.com/SanteonNL/fenix-sampleclient/models/fhir"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
	"golang.org/x/exp/slices"
	"golang.org/x/text/cases"
)

const (
	ResourceType = "Patient"

	rowFormat    = "%-20s  %-20s %s \n"
	notAvailable = "N/A"
)

// ErrMissingName is returned for a patient without a name entry or without a
// given name in its first name entry.
var ErrMissingName = errors.New("patient has no given name")

// DisplayRow is the projection of a Patient printed as one table row
type DisplayRow struct {
	FirstName string
	LastName  string
	BirthDate *fhirtime.Date
}

// BirthDateString returns the birth date as YYYY-MM-DD, or N/A when unknown
func (r DisplayRow) BirthDateString() string {
	if r.BirthDate == nil {
		return notAvailable
	}
	return r.BirthDate.String()
}

// resourceHeader is the part of any FHIR resource needed to tell its type
type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}

// ExtractPatients returns the Patient resources of a bundle in entry order.
// Entries holding any other resource type, or no resource at all, are skipped.
func ExtractPatients(bundle *fhir.Bundle) ([]fhir.Patient, error) {
	if bundle == nil {
		return nil, nil
	}

	patients := make([]fhir.Patient, 0, len(bundle.Entry))
	for i, entry := range bundle.Entry {
		if len(entry.Resource) == 0 {
			continue
		}

		var header resourceHeader
		if err := json.Unmarshal(entry.Resource, &header); err != nil {
			return nil, fmt.Errorf("failed to read resource type of entry %d: %w", i, err)
		}
		if header.ResourceType != ResourceType {
			continue
		}

		p, err := fhir.UnmarshalPatient(entry.Resource)
		if err != nil {
			return nil, fmt.Errorf("failed to decode patient in entry %d: %w", i, err)
		}
		patients = append(patients, p)
	}
	return patients, nil
}

// FirstName returns the first given name of the first name entry
func FirstName(p fhir.Patient) (string, error) {
	if len(p.Name) == 0 || len(p.Name[0].Given) == 0 {
		return "", fmt.Errorf("%w (id %s)", ErrMissingName, patientID(p))
	}
	return p.Name[0].Given[0], nil
}

// NewDisplayRow derives the table row of a patient
func NewDisplayRow(p fhir.Patient) (DisplayRow, error) {
	first, err := FirstName(p)
	if err != nil {
		return DisplayRow{}, err
	}

	row := DisplayRow{FirstName: first}
	if p.Name[0].Family != nil {
		row.LastName = *p.Name[0].Family
	}

	if p.BirthDate != nil && *p.BirthDate != "" {
		d, err := fhirtime.ParseDate(*p.BirthDate)
		if err != nil {
			return DisplayRow{}, fmt.Errorf("patient %s: %w", patientID(p), err)
		}
		row.BirthDate = &d
	}
	return row, nil
}

// Render writes a header followed by one row per patient. Nothing is written
// when any patient cannot be projected.
func Render(w io.Writer, patients []fhir.Patient) error {
	rows := make([]DisplayRow, 0, len(patients))
	for _, p := range patients {
		row, err := NewDisplayRow(p)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if _, err := fmt.Fprintf(w, rowFormat, "FIRST NAME", "LAST NAME", "BIRTH DATE"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, rowFormat, row.FirstName, row.LastName, row.BirthDateString()); err != nil {
			return err
		}
	}
	return nil
}

// SortByFirstName returns a copy of patients ordered by first given name,
// compared case-insensitively. Patients with equal names keep their order.
func SortByFirstName(patients []fhir.Patient) ([]fhir.Patient, error) {
	type keyed struct {
		key     string
		patient fhir.Patient
	}

	fold := cases.Fold()
	items := make([]keyed, 0, len(patients))
	for _, p := range patients {
		first, err := FirstName(p)
		if err != nil {
			return nil, err
		}
		items = append(items, keyed{key: fold.String(first), patient: p})
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		return strings.Compare(a.key, b.key)
	})

	sorted := make([]fhir.Patient, len(items))
	for i, item := range items {
		sorted[i] = item.patient
	}
	return sorted, nil
}

func patientID(p fhir.Patient) string {
	if p.Id == nil {
		return "<none>"
	}
	return *p.Id
}
