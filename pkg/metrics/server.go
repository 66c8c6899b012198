package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/kueri-lab/trecpipe/pkg/middleware"
)

// StartServer serves /metrics while a long pass (index, search) runs.
func (m *Metrics) StartServer(port int) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>trecpipe metrics</h1><p><a href="/metrics">/metrics</a></p></body></html>`)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      middleware.Chain(mux, middleware.Logging(slog.Default().With("component", "metrics-server")), middleware.Timeout(5*time.Second)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}

// Push sends the current values to a Pushgateway, grouped by pass id.
// Passes are batch jobs, so scraping alone would miss short runs.
func (m *Metrics) Push(ctx context.Context, url, job, passID string) error {
	pusher := push.New(url, job).Gatherer(m.registry)
	if passID != "" {
		pusher = pusher.Grouping("pass_id", passID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
