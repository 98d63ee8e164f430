package trace

import "net/http"

// Middleware continues the caller's trace (if the request carries one) and
// echoes the trace id back in the response headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{
			TraceID:      r.Header.Get(TraceIDKey),
			ParentSpanID: r.Header.Get(SpanIDKey),
			SpanID:       generateSpanID(),
		}
		if tc.TraceID == "" {
			tc.TraceID = generateTraceID()
		}
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
