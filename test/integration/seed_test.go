package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ehr/patientsummary/internal/domain/note"
	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/platform/db"
	"github.com/ehr/patientsummary/internal/seed"
)

func TestSeed_SampleFixture(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)

	fx, err := seed.Load(afero.NewOsFs(), filepath.Join(globalDB.RootDir, "fixtures", "sample_data.yaml"))
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}

	patients := patient.NewRepo(globalDB.Pool)
	notes := note.NewRepo(globalDB.Pool)
	seeder := seed.NewSeeder(patients, notes, db.NewTxScope(globalDB.Pool), zerolog.Nop())

	res, err := seeder.Run(ctx, fx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res.Patients != 3 || res.Skipped {
		t.Fatalf("expected 3 patients seeded, got %+v", res)
	}

	total := 0
	for id := int64(1); id <= 3; id++ {
		items, err := notes.ListByPatient(ctx, id)
		if err != nil {
			t.Fatalf("list notes for %d: %v", id, err)
		}
		total += len(items)
	}
	if total != res.Notes {
		t.Errorf("expected %d notes in the database, found %d", res.Notes, total)
	}

	again, err := seeder.Run(ctx, fx)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if !again.Skipped {
		t.Error("expected second run to be skipped")
	}
	if n, _ := patients.Count(ctx); n != 3 {
		t.Errorf("expected 3 patients after rerun, got %d", n)
	}
}
