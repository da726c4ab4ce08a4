package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"

	"github.com/ehr/patientsummary/internal/domain/note"
	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/platform/db"
)

// testDB holds the shared database for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
	RootDir string
}

// globalDB is initialized once in TestMain.
var globalDB *testDB

// databaseURLEnv points the suite at an existing, empty database instead of
// a container.
const databaseURLEnv = "SUMMARY_TEST_DATABASE_URL"

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, stop := os.Getenv(databaseURLEnv), func() {}
	if connStr == "" {
		if _, err := exec.LookPath("docker"); err != nil {
			fmt.Fprintf(os.Stderr, "docker not found and %s unset, skipping integration tests\n", databaseURLEnv)
			os.Exit(0)
		}
		var err error
		connStr, stop, err = startPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
			os.Exit(1)
		}
	}

	tdb, err := setupDatabase(ctx, connStr)
	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "failed to set up database: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	tdb.Pool.Close()
	stop()
	os.Exit(code)
}

// setupDatabase opens a pool and applies every migration.
func setupDatabase(ctx context.Context, connStr string) (*testDB, error) {
	pool, err := db.NewPool(ctx, connStr, db.PoolOptions{MaxConns: 8})
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	root := repoRoot()
	if _, err := db.NewMigrator(pool, afero.NewOsFs(), filepath.Join(root, "migrations")).Up(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &testDB{Pool: pool, ConnStr: connStr, RootDir: root}, nil
}

// repoRoot locates the module root relative to this test file.
func repoRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..")
}

// resetTables empties every domain table so each test starts clean.
func resetTables(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := globalDB.Pool.Exec(ctx, "TRUNCATE summary_jobs, notes, patients RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func createTestPatient(t *testing.T, ctx context.Context, name string, dob patient.Date) *patient.Patient {
	t.Helper()
	p := &patient.Patient{Name: name, DateOfBirth: dob}
	if err := patient.NewRepo(globalDB.Pool).Create(ctx, p); err != nil {
		t.Fatalf("create patient %s: %v", name, err)
	}
	return p
}

func createTestNote(t *testing.T, ctx context.Context, patientID int64, at time.Time, content string) *note.Note {
	t.Helper()
	n := &note.Note{PatientID: patientID, Content: content, NoteTimestamp: at}
	if err := note.NewRepo(globalDB.Pool).Create(ctx, n); err != nil {
		t.Fatalf("create note: %v", err)
	}
	return n
}
