package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

// instrument records request count and latency for endpoint. Server errors
// are logged at error, client errors at debug.
func instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	log := logger.Get().Named("http")
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, float64(time.Since(start).Microseconds())/1000)

		fields := []logger.Field{
			logger.String("endpoint", endpoint),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.String("error_type", errorClass(rec.status)),
		}
		switch {
		case rec.status >= http.StatusInternalServerError:
			log.Error(r.Context(), "request failed", fields...)
		case rec.status >= http.StatusBadRequest:
			log.Debug(r.Context(), "request rejected", fields...)
		}
	}
}

func errorClass(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= http.StatusBadRequest:
		return "client_error"
	default:
		return ""
	}
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
