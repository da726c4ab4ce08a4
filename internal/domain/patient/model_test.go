package patient

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDate_JSON(t *testing.T) {
	p := Patient{ID: 1, Name: "John Smith", DateOfBirth: NewDate(1985, time.March, 15)}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]interface{}
	json.Unmarshal(b, &raw)
	if raw["date_of_birth"] != "1985-03-15" {
		t.Errorf("expected 1985-03-15, got %v", raw["date_of_birth"])
	}
	if raw["updated_at"] != nil {
		t.Errorf("expected null updated_at, got %v", raw["updated_at"])
	}
}

func TestDate_UnmarshalJSON(t *testing.T) {
	var req CreateRequest
	if err := json.Unmarshal([]byte(`{"name":"Jane","date_of_birth":"1990-07-22"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.DateOfBirth == nil || req.DateOfBirth.String() != "1990-07-22" {
		t.Fatalf("unexpected date: %v", req.DateOfBirth)
	}

	if err := json.Unmarshal([]byte(`{"date_of_birth":"22/07/1990"}`), &req); err == nil {
		t.Error("expected error for non ISO date")
	}
	if err := json.Unmarshal([]byte(`{"date_of_birth":19900722}`), &req); err == nil {
		t.Error("expected error for numeric date")
	}
}

func TestDate_InFuture(t *testing.T) {
	now := time.Date(2024, 6, 15, 23, 59, 0, 0, time.UTC)
	if NewDate(2024, 6, 15).InFuture(now) {
		t.Error("today is not in the future")
	}
	if !NewDate(2024, 6, 16).InFuture(now) {
		t.Error("tomorrow is in the future")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("1978-11-08")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 1978 || d.Month() != time.November || d.Day() != 8 {
		t.Errorf("unexpected date %v", d)
	}
	if _, err := ParseDate("1978-13-01"); err == nil {
		t.Error("expected error for invalid month")
	}
}
