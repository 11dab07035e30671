package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
)

func render(t *testing.T, res outcome.Result) (int, map[string]any) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	if err := respond(c, res); err != nil {
		t.Fatalf("respond: %v", err)
	}
	body := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestRespondMapsOutcomes(t *testing.T) {
	ref := model.BookingRef{OrderID: 1, SlotID: 2, Status: model.OrderInHand}
	cases := []struct {
		name string
		res  outcome.Result
		code int
		kind string
	}{
		{"success", outcome.Success{CanceledOrders: []int64{1}}, http.StatusOK, ""},
		{"blocked", outcome.Blocked{InHand: []model.BookingRef{ref}}, http.StatusConflict, "concurrency_blocked"},
		{"confirm", outcome.ConfirmRequired{Pending: []model.BookingRef{ref}}, http.StatusPreconditionRequired, "confirm_required"},
		{"race", outcome.Race("lost"), http.StatusConflict, "retry"},
		{"not found", outcome.Error{Kind: apperr.KindNotFound}, http.StatusNotFound, "not_found"},
		{"invalid", outcome.Error{Kind: apperr.KindInvalidTransition}, http.StatusUnprocessableEntity, "invalid_transition"},
		{"conflict", outcome.Error{Kind: apperr.KindConflict}, http.StatusConflict, "conflict"},
	}
	for _, tc := range cases {
		code, body := render(t, tc.res)
		if code != tc.code {
			t.Errorf("%s: code = %d, want %d", tc.name, code, tc.code)
		}
		if tc.kind != "" && body["kind"] != tc.kind {
			t.Errorf("%s: kind = %v, want %s", tc.name, body["kind"], tc.kind)
		}
	}

	_, body := render(t, outcome.Success{})
	if got, ok := body["canceled_slots"].([]any); !ok || len(got) != 0 {
		t.Errorf("empty ids should render as [], got %v", body["canceled_slots"])
	}
}

func TestFailHidesUnclassifiedErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = fail(c, apperr.New(apperr.KindTransient, "op", "redis down"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("transient = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = fail(c, apperr.New(apperr.KindDataIntegrity, "op", "secret detail"))
	if rec.Code != http.StatusInternalServerError || rec.Body.String() == "" {
		t.Fatalf("internal = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret detail") {
		t.Error("internal detail leaked to the client")
	}
}
