package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: bracket.Validationf("bad"), want: http.StatusBadRequest},
		{name: "not found", err: bracket.NotFoundf("match"), want: http.StatusNotFound},
		{name: "conflict", err: bracket.Conflictf("busy"), want: http.StatusConflict},
		{name: "slot taken", err: fmt.Errorf("%w: court 1", bracket.ErrSlotTaken), want: http.StatusConflict},
		{name: "integrity", err: bracket.Integrityf("twice"), want: http.StatusUnprocessableEntity},
		{name: "infeasible", err: bracket.Infeasiblef("full"), want: http.StatusUnprocessableEntity},
		{name: "unknown", err: errors.New("disk full"), want: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func TestErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, "failed", errors.New("dsn password=secret"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = httptest.NewRecorder()
	Error(rec, "failed", fmt.Errorf("%w: court 1", bracket.ErrSlotTaken))
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, body.Retryable)
}

func TestReadJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"name":"Open"}`},
		{name: "empty", body: ``, wantErr: "must not be empty"},
		{name: "unknown field", body: `{"nome":"Open"}`, wantErr: "unknown key"},
		{name: "wrong type", body: `{"name":3}`, wantErr: "incorrect JSON type"},
		{name: "two values", body: `{"name":"a"}{"name":"b"}`, wantErr: "single JSON value"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			err := ReadJSON(httptest.NewRecorder(), req, &dst)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Open", dst.Name)
		})
	}
}
