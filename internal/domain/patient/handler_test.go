package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func seedPatient(t *testing.T, h *Handler, name string) *Patient {
	t.Helper()
	p, err := h.svc.CreatePatient(context.Background(), CreateRequest{Name: name, DateOfBirth: datePtr(1985, 3, 15)})
	if err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	return p
}

func expectHTTPError(t *testing.T, err error, code int, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
	if msg != "" && httpErr.Message != msg {
		t.Errorf("expected message %q, got %v", msg, httpErr.Message)
	}
}

func TestHandler_CreatePatient(t *testing.T) {
	h, e := newTestHandler()

	body := `{"name":"John Smith","date_of_birth":"1985-03-15"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var raw map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &raw)
	if raw["name"] != "John Smith" {
		t.Errorf("expected John Smith, got %v", raw["name"])
	}
	if raw["date_of_birth"] != "1985-03-15" {
		t.Errorf("expected 1985-03-15, got %v", raw["date_of_birth"])
	}
}

func TestHandler_CreatePatient_BadRequest(t *testing.T) {
	h, e := newTestHandler()

	for _, body := range []string{
		`{"date_of_birth":"1985-03-15"}`,
		`{"name":"John Smith"}`,
		`{"name":"John Smith","date_of_birth":"15/03/1985"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		expectHTTPError(t, h.CreatePatient(c), http.StatusBadRequest, "")
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler()
	p := seedPatient(t, h, "Jane Doe")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(p.ID, 10))

	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("999")

	expectHTTPError(t, h.GetPatient(c), http.StatusNotFound, "Patient not found")
}

func TestHandler_GetPatient_InvalidID(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")

	expectHTTPError(t, h.GetPatient(c), http.StatusBadRequest, "")
}

func TestHandler_UpdatePatient(t *testing.T) {
	h, e := newTestHandler()
	p := seedPatient(t, h, "Jane Doe")

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"date_of_birth":"1991-01-02"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(p.ID, 10))

	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var raw map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &raw)
	if raw["name"] != "Jane Doe" {
		t.Errorf("expected name unchanged, got %v", raw["name"])
	}
	if raw["date_of_birth"] != "1991-01-02" {
		t.Errorf("expected 1991-01-02, got %v", raw["date_of_birth"])
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	h, e := newTestHandler()
	p := seedPatient(t, h, "Robert Johnson")

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(p.ID, 10))

	if err := h.DeletePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(p.ID, 10))
	expectHTTPError(t, h.DeletePatient(c), http.StatusNotFound, "Patient not found")
}

func TestHandler_ListPatients(t *testing.T) {
	h, e := newTestHandler()
	for _, name := range []string{"John Smith", "Jane Doe", "Robert Johnson"} {
		seedPatient(t, h, name)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?page=2&size=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Items []Patient `json:"items"`
		Total int       `json:"total"`
		Page  int       `json:"page"`
		Size  int       `json:"size"`
		Pages int       `json:"pages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Total != 3 || resp.Page != 2 || resp.Size != 2 || resp.Pages != 2 {
		t.Errorf("unexpected pagination: %+v", resp)
	}
	if len(resp.Items) != 1 || resp.Items[0].Name != "Robert Johnson" {
		t.Errorf("expected Robert Johnson on page 2, got %+v", resp.Items)
	}
}

func TestHandler_ListPatients_InvalidSort(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?sort_by=ssn", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPError(t, h.ListPatients(c), http.StatusBadRequest,
		"Invalid sort_by field. Must be one of: created_at, date_of_birth, id, name, updated_at")
}

func TestHandler_ListPatients_InvalidSize(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?size=500", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPError(t, h.ListPatients(c), http.StatusBadRequest, "")
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	routes := e.Routes()
	if len(routes) != 5 {
		t.Fatalf("expected 5 routes, got %d", len(routes))
	}

	want := map[string]bool{
		"GET:/api/v1/patients":        false,
		"POST:/api/v1/patients":       false,
		"GET:/api/v1/patients/:id":    false,
		"PUT:/api/v1/patients/:id":    false,
		"DELETE:/api/v1/patients/:id": false,
	}
	for _, r := range routes {
		key := r.Method + ":" + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing route: %s", k)
		}
	}
}
