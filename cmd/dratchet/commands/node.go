package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/dratchet"
	"github.com/TheusHen/DRatchet/dratchet/session"
	"github.com/TheusHen/DRatchet/internal/config"
)

// newPeer loads the identity and builds a peer from the config. When a
// metrics address is configured the returned stop func also shuts the
// metrics endpoint down.
func (a *app) newPeer(ctx context.Context) (*dratchet.Peer, func(), error) {
	kp, err := config.LoadIdentity(a.cfg.IdentityFile)
	if err != nil {
		return nil, nil, err
	}
	ro, err := a.cfg.RatchetOptions()
	if err != nil {
		return nil, nil, err
	}
	opts := []session.Option{session.WithRatchetOptions(ro)}

	stop := func() {}
	if a.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, session.WithMetrics(session.NewMetrics(reg)))
		stop = a.serveMetrics(ctx, a.cfg.MetricsAddr, reg)
	}

	p := dratchet.NewPeer(kp, dratchet.Config{
		Transport: a.cfg.TransportConfig(),
		Session:   opts,
		Logger:    a.logger,
	})
	return p, stop, nil
}

func (a *app) serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics endpoint", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
