package middleware

import (
	"net/http"
	"sync"
)

// statusWriter records the response status. Once the handler or the
// timeout claims the response, the other side leaves it alone.
type statusWriter struct {
	http.ResponseWriter
	mu      sync.Mutex
	status  int
	claimed bool
	expired bool
}

// claim marks the response as owned by the timeout path. It reports
// whether the handler already started writing.
func (sw *statusWriter) claim() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.claimed {
		return true
	}
	sw.claimed = true
	sw.expired = true
	return false
}

func (sw *statusWriter) start(code int) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.expired {
		return false
	}
	if !sw.claimed {
		sw.claimed = true
		sw.status = code
	}
	return true
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.start(code) {
		sw.ResponseWriter.WriteHeader(code)
	}
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.start(http.StatusOK) {
		return 0, http.ErrHandlerTimeout
	}
	return sw.ResponseWriter.Write(b)
}
