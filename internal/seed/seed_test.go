package seed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/patientsummary/internal/domain/note"
	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/domain/summary"
)

type memPatients struct {
	items  []*patient.Patient
	failOn string
}

func (m *memPatients) Create(_ context.Context, p *patient.Patient) error {
	if p.Name == m.failOn {
		return errors.New("insert failed")
	}
	p.ID = int64(len(m.items) + 1)
	m.items = append(m.items, p)
	return nil
}

func (m *memPatients) Count(context.Context) (int, error) { return len(m.items), nil }

type memNotes struct {
	items []*note.Note
}

func (m *memNotes) Create(_ context.Context, n *note.Note) error {
	n.ID = int64(len(m.items) + 1)
	m.items = append(m.items, n)
	return nil
}

const fixtureYAML = `
patients:
  - name: John Smith
    date_of_birth: "1985-03-15"
    notes:
      - timestamp: 2024-01-15T09:00:00Z
        content: |-
          S: chest pain
          A:
          STEMI
      - timestamp: 2024-01-16T08:00:00Z
        content: follow-up
  - name: Jane Doe
    date_of_birth: "1990-07-22"
`

func memFS(t *testing.T, path, content string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	return fs
}

func TestLoad(t *testing.T) {
	fx, err := Load(memFS(t, "fx.yaml", fixtureYAML), "fx.yaml")
	require.NoError(t, err)

	require.Len(t, fx.Patients, 2)
	assert.Equal(t, "John Smith", fx.Patients[0].Name)
	require.Len(t, fx.Patients[0].Notes, 2)
	assert.Equal(t, "S: chest pain\nA:\nSTEMI", fx.Patients[0].Notes[0].Content)
	assert.True(t, fx.Patients[0].Notes[0].Timestamp.Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)))
	assert.Empty(t, fx.Patients[1].Notes)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":      "patients: []\n",
		"bad date":   "patients:\n  - name: A\n    date_of_birth: 15/03/1985\n",
		"no name":    "patients:\n  - date_of_birth: \"1985-03-15\"\n",
		"no content": "patients:\n  - name: A\n    date_of_birth: \"1985-03-15\"\n    notes:\n      - timestamp: 2024-01-15T09:00:00Z\n",
		"no time":    "patients:\n  - name: A\n    date_of_birth: \"1985-03-15\"\n    notes:\n      - content: x\n",
		"not yaml":   "patients: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(memFS(t, "fx.yaml", content), "fx.yaml")
			assert.Error(t, err)
		})
	}

	_, err := Load(afero.NewMemMapFs(), "missing.yaml")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSeeder_Run(t *testing.T) {
	fx, err := Load(memFS(t, "fx.yaml", fixtureYAML), "fx.yaml")
	require.NoError(t, err)

	patients, notes := &memPatients{}, &memNotes{}
	res, err := NewSeeder(patients, notes, nil, zerolog.Nop()).Run(context.Background(), fx)
	require.NoError(t, err)

	assert.Equal(t, Result{Patients: 2, Notes: 2}, res)
	assert.Equal(t, patient.NewDate(1985, time.March, 15), patients.items[0].DateOfBirth)
	for _, n := range notes.items {
		assert.Equal(t, int64(1), n.PatientID)
	}
}

func TestSeeder_SkipsWhenPopulated(t *testing.T) {
	fx, err := Load(memFS(t, "fx.yaml", fixtureYAML), "fx.yaml")
	require.NoError(t, err)

	patients := &memPatients{items: []*patient.Patient{{ID: 1, Name: "Existing"}}}
	notes := &memNotes{}
	res, err := NewSeeder(patients, notes, nil, zerolog.Nop()).Run(context.Background(), fx)
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Len(t, patients.items, 1)
	assert.Empty(t, notes.items)
}

func TestSeeder_CreateError(t *testing.T) {
	fx, err := Load(memFS(t, "fx.yaml", fixtureYAML), "fx.yaml")
	require.NoError(t, err)

	_, err = NewSeeder(&memPatients{failOn: "Jane Doe"}, &memNotes{}, nil, zerolog.Nop()).Run(context.Background(), fx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Jane Doe")
}

func TestSampleFixture(t *testing.T) {
	fx, err := Load(afero.NewOsFs(), "../../fixtures/sample_data.yaml")
	require.NoError(t, err)

	names := make([]string, 0, len(fx.Patients))
	for _, p := range fx.Patients {
		names = append(names, p.Name)
		for _, n := range p.Notes {
			assert.True(t, summary.IsValidSOAP(n.Content), "%s note at %s is not SOAP", p.Name, n.Timestamp)
		}
	}
	assert.Equal(t, []string{"John Smith", "Jane Doe", "Robert Johnson"}, names)
}
