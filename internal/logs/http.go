package logs

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Requests logs one line per request with chi's request id.
func Requests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		Logger.WithFields(logrus.Fields{
			"reqid":  chimw.GetReqID(r.Context()),
			"method": r.Method,
			"uri":    r.RequestURI,
			"status": ww.Status(),
			"bytes":  ww.BytesWritten(),
			"dur":    time.Since(start).String(),
			"ip":     r.RemoteAddr,
		}).Info("request")
	})
}
