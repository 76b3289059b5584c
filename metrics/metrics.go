// Package metrics exposes Prometheus metrics for the provisioning server
// on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provisioning counters, incremented by the provisioning facade.
var (
	HostsProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_hosts_created_total",
		Help: "Number of hosts successfully provisioned with full material.",
	})
	InvitesRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_invites_redeemed_total",
		Help: "Number of successful invite redemptions.",
	})
	IssuanceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_issuance_failures_total",
		Help: "Number of host creations whose credential issuance failed.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
