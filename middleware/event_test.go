package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/billbatista/acasinha-split/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	ev *ledger.Event
}

func (s fixedSource) Event() *ledger.Event {
	return s.ev
}

func TestRequireEvent(t *testing.T) {
	ev, err := ledger.NewEvent("Trip", "USD")
	require.NoError(t, err)

	var seen *ledger.Event
	handler := ActiveEvent(fixedSource{ev: &ev})(RequireEvent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetEvent(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/event", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, ev.ID, seen.ID)
}

func TestRequireEvent_NoneLoaded(t *testing.T) {
	called := false
	handler := ActiveEvent(fixedSource{})(RequireEvent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/event", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, called)
}
