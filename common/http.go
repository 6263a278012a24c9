package common

import (
	"net/http"
)

// LoggingHTTPHandler logs every request at debug level before serving it.
func LoggingHTTPHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Log.Debugf("%s %s", r.Method, r.URL)
		h.ServeHTTP(w, r)
	})
}
