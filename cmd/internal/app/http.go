package app

import (
	"context"
	"net/http"
	"time"

	"splitbill/cmd/internal/auth/api"
	"splitbill/cmd/internal/obs"
)

// readinessCheck is one dependency probed by /readyz.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	checks []readinessCheck,
	dbEnabled bool,
	metrics *obs.Metrics,
	auth *api.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				log.Info("readyz.not_ready", "dependency", c.name, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	if auth != nil {
		auth.Register(mux)
	}
}
