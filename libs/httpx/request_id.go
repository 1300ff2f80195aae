package httpx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"

	otelx "github.com/firesnaps/snaprelay/libs/otel"
)

const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithRequestID keeps an incoming X-Request-Id. Otherwise the request's trace id is used,
// so access logs and traces share one identifier; a random id covers untraced requests.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = otelx.TraceID(r.Context())
		}
		if id == "" {
			id = randomID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
