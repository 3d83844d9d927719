package httpservice

import (
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/arkade-os/escrowd/pkg/errors"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// readiness gates the api routes until the app service is started.
type readiness struct {
	appStarted atomic.Bool
}

func (r *readiness) markStarted() {
	r.appStarted.Store(true)
}

func (r *readiness) markStopped() {
	r.appStarted.Store(false)
}

func (r *readiness) ready() bool {
	return r.appStarted.Load()
}

func (r *readiness) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.ready() {
			writeError(w, req, errors.SERVICE_UNAVAILABLE.New("service not ready"))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// requestLogger logs method, path, status and latency. Query strings and bodies are never
// logged since they may carry phone numbers or claim tokens.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
		}).Debug("http request")
	})
}

func panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Errorf("panic-recovery middleware recovered from panic: %v", rec)
				log.Errorf("stack trace: %v", string(debug.Stack()))
				writeError(w, r, somethingWentWrong)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
