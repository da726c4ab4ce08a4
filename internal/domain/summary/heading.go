package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/patientsummary/internal/domain/note"
)

const noteTimeLayout = "2006-01-02 15:04"

// Heading identifies the patient a summary belongs to.
type Heading struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	MRN  string `json:"mrn"`
}

// Age returns whole years between dob and today. The year is not counted
// until the birthday itself.
func Age(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	if today.Month() < dob.Month() || (today.Month() == dob.Month() && today.Day() < dob.Day()) {
		age--
	}
	return age
}

// FormatMRN renders a medical record number from a patient id.
func FormatMRN(id int64) string {
	return fmt.Sprintf("MRN-%06d", id)
}

// ConcatNotes renders notes in the given order, each prefixed with its UTC
// timestamp.
func ConcatNotes(notes []*note.Note) string {
	blocks := make([]string, 0, len(notes))
	for _, n := range notes {
		blocks = append(blocks, "["+n.NoteTimestamp.UTC().Format(noteTimeLayout)+"]\n"+n.Content)
	}
	return strings.Join(blocks, "\n\n")
}
