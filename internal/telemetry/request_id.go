package telemetry

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/italolelis/seedbox_migrator/internal/logctx"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, reusing an incoming X-Request-ID,
// and attaches it to the request logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx, _ := logctx.With(r.Context(), "request_id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
