package middleware

import (
	"context"
	"net/http"

	"github.com/billbatista/acasinha-split/ledger"
)

type contextKey string

const EventKey contextKey = "event"

// EventSource reports the active event, or nil when none is loaded.
// *session.Controller implements it.
type EventSource interface {
	Event() *ledger.Event
}

// ActiveEvent puts a snapshot of the active event, if any, on the request context
func ActiveEvent(source EventSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ev := source.Event()
			if ev == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), EventKey, ev)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireEvent answers 409 when no event is loaded
func RequireEvent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetEvent(r.Context()); !ok {
			http.Error(w, "no event is open", http.StatusConflict)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetEvent(ctx context.Context) (*ledger.Event, bool) {
	ev, ok := ctx.Value(EventKey).(*ledger.Event)
	return ev, ok
}
