package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/keygate/internal/observability"
)

// Recovery turns a handler panic into a logged JSON 500 so one bad request
// cannot take the gate down. http.ErrAbortHandler is re-raised for net/http.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(v)
				}
				logPanic(logger, r, v)
				writeInternalError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func logPanic(logger observability.Logger, r *http.Request, v any) {
	logger.WithContext(r.Context()).Error("panic recovered",
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Any("error", v),
		observability.String("stack", string(debug.Stack())),
	)
}

func writeInternalError(w http.ResponseWriter) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, bodyInternalError)
}
