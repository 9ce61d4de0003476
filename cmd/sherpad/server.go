package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/bwks/sherpa-sub001/internal/authsvc"
	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/internal/containerengine"
	"github.com/bwks/sherpa-sub001/internal/hypervisor"
	"github.com/bwks/sherpa-sub001/internal/netlinkadapter"
	"github.com/bwks/sherpa-sub001/internal/pipeline"
	"github.com/bwks/sherpa-sub001/internal/progress"
	"github.com/bwks/sherpa-sub001/internal/rpcapi"
	"github.com/bwks/sherpa-sub001/internal/tlssvc"
	"github.com/bwks/sherpa-sub001/internal/wsapi"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

// app bundles every long-lived collaborator the daemon wires together,
// so start/stop/bootstrap-admin can each construct the slice they need
// without duplicating the connection logic.
type app struct {
	cfg     *config.Config
	layout  config.Layout
	catalog *catalog.Store
	tokens  *authsvc.TokenIssuer
	pipe    *pipeline.Pipeline
	router  *rpcapi.Router
	ws      *wsapi.Server
}

// buildApp opens every backing connection (catalog, hypervisor, container
// engine, netlink) and wires the RPC router and WebSocket server. Callers
// are responsible for calling app.catalog.Close() on shutdown.
func buildApp(l config.Layout) (*app, error) {
	if err := l.EnsureDirs(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(l.ConfigDir() + "/sherpa.toml")
	if err != nil {
		return nil, err
	}
	cfg.ServerRoot = l.Root

	store, err := catalog.Open(l.CatalogDBFile())
	if err != nil {
		return nil, err
	}

	if err := authsvc.SeedAdminUser(store); err != nil {
		util.Logger.WithError(err).Warn("sherpad: admin bootstrap seed failed")
	}

	seedImages, err := catalog.LoadSeedFile(l.ImageSeedFile())
	if err != nil {
		util.Logger.WithError(err).Warn("sherpad: image catalog seed load failed")
	} else if n, err := store.ApplySeed(seedImages); err != nil {
		util.Logger.WithError(err).Warn("sherpad: image catalog seed apply failed")
	} else if n > 0 {
		util.Logger.WithField("count", n).Info("sherpad: seeded built-in images")
	}

	secretStore := authsvc.NewSecretStore(l.JWTSecretFile())
	secret, err := secretStore.Load()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sherpad: load jwt secret: %w", err)
	}
	tokens := authsvc.NewTokenIssuer(secret)

	hv, err := hypervisor.Connect(hypervisor.DefaultSocket)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sherpad: connect libvirt: %w", err)
	}

	containers, err := containerengine.New()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sherpad: connect container engine: %w", err)
	}

	var redisPub progress.RedisPublisher
	if cfg.Redis.Enabled {
		redisPub = progress.NewRedisMirror(cfg.Redis.Addr)
	}
	broadcaster := progress.NewBroadcaster(redisPub)

	pipe := pipeline.New(pipeline.Deps{
		Catalog:     store,
		Layout:      l,
		Netlink:     netlinkadapter.New(),
		Hypervisor:  hv,
		CloneDisk:   hypervisor.CloneDisk,
		Containers:  containers,
		Broadcaster: broadcaster,
		RouterImage: "sherpa-router:latest",
	})

	router := rpcapi.NewRouter(store, pipe, tokens, l, containers)
	ws := wsapi.NewServer(router, broadcaster)

	return &app{cfg: cfg, layout: l, catalog: store, tokens: tokens, pipe: pipe, router: router, ws: ws}, nil
}

// serve starts the WebSocket listener on cfg.Network and, when TLS is
// configured, the HTTP-only /cert companion on port+1 (§4.M).
func (a *app) serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Network.Host, a.cfg.Network.Port)

	mux := http.NewServeMux()
	mux.Handle("/ws", a.ws)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	if a.cfg.TLS.Enabled {
		tlsCfg := tlssvc.Config{
			Enabled:          a.cfg.TLS.Enabled,
			AutoGenerateCert: a.cfg.TLS.AutoGenerateCert,
			CertValidityDays: a.cfg.TLS.CertValidityDays,
			AdditionalSANs:   a.cfg.TLS.AdditionalSANs,
			CertFile:         a.layout.ServerCertFile(),
			KeyFile:          a.layout.ServerKeyFile(),
		}
		cert, err := tlssvc.LoadOrGenerate(tlsCfg)
		if err != nil {
			return fmt.Errorf("sherpad: tls: %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}

		certAddr := fmt.Sprintf("%s:%d", a.cfg.Network.Host, a.cfg.Network.Port+1)
		certSrv := &http.Server{Addr: certAddr, Handler: tlssvc.NewCertHandler(tlsCfg)}
		go func() {
			if err := certSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				util.Logger.WithError(err).Error("sherpad: /cert listener stopped")
			}
		}()

		util.Logger.WithField("addr", addr).Info("sherpad: listening (TLS)")
		return srv.ListenAndServeTLS("", "")
	}

	util.Logger.WithField("addr", addr).Info("sherpad: listening")
	return srv.ListenAndServe()
}

func (a *app) close() {
	a.catalog.Close()
}
