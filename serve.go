package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"adbcast/adb"
	"adbcast/recorder"
	wire "adbcast/scrcpy"
	"adbcast/sdriver"
	"adbcast/sdriver/scrcpy"
	"adbcast/streamServer"
	"adbcast/webservice"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve mirroring sessions over HTTP",
		Long: `Start the HTTP server. Sessions start when the first viewer of a
device attaches and stop when the last one leaves.

Examples:
  adbcast serve
  adbcast serve --config adbcast.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	defaults, err := cfg.ServerOptions()
	if err != nil {
		return err
	}
	layout, err := cfg.Layout()
	if err != nil {
		return err
	}
	client := a.adbClient()
	if v, err := client.Version(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.ADB.Addr).Msg("adb daemon not reachable yet")
	} else {
		log.Info().Int("version", v).Str("addr", cfg.ADB.Addr).Msg("Connected to adb daemon")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := streamServer.NewMetrics(reg)

	var recordings *recorder.Manager
	if cfg.Recorder.Enabled {
		recordings, err = a.startRecorder(ctx, metrics)
		if err != nil {
			return err
		}
		defer recordings.Server.Close()
		if recordings.Catalog != nil {
			defer recordings.Catalog.Close()
		}
	}

	opts := []streamServer.Option{
		streamServer.WithQueueSize(cfg.HTTP.ViewerQueue),
		streamServer.WithMetrics(metrics),
		streamServer.WithLogger(log.Logger),
	}
	if cfg.Events.NATSURL != "" {
		nc, err := connectNATS(cfg.Events.NATSURL)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, lifecycle events disabled")
		} else {
			defer nc.Close()
			opts = append(opts, streamServer.WithPublisher(streamServer.NewNATSPublisher(nc, cfg.Events.Subject)))
		}
	}

	factory := func(deviceID string, o wire.Options, sink sdriver.FrameSink) (sdriver.Driver, error) {
		sessionID, scid := scrcpy.NewSessionID()
		sc := scrcpy.Config{
			Serial:           deviceID,
			ServerJar:        cfg.ADB.ServerJar,
			RemotePath:       cfg.ADB.ServerRemotePath,
			Version:          cfg.Scrcpy.Version,
			Options:          o,
			Layout:           layout,
			HandshakeTimeout: cfg.Scrcpy.HandshakeTimeout,
			SessionID:        sessionID,
			SCID:             scid,
			ADB:              client,
			Sink:             sink,
			Logger:           log.Logger,
		}
		if recordings != nil {
			sc.Recorder = recordings.NewBridge(deviceID, sessionID, scid, o)
		}
		s, err := scrcpy.New(sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	registry := streamServer.NewRegistry(factory, opts...)

	webCfg := webservice.Config{
		Registry:       registry,
		ADB:            client,
		Defaults:       defaults,
		ICEServers:     cfg.HTTP.ICEServers,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Gatherer:       reg,
		Logger:         log.Logger,
	}
	if recordings != nil && recordings.Catalog != nil {
		webCfg.Recordings = recordings.Catalog
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           webservice.New(webCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errc:
		if err != nil {
			registry.Shutdown(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	}
	if err := registry.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("Sessions did not stop in time")
	}
	log.Info().Msg("Stopped")
	return nil
}

// startRecorder binds the muxer side channel and opens the catalog.
func (a *app) startRecorder(ctx context.Context, metrics *streamServer.Metrics) (*recorder.Manager, error) {
	rc := a.cfg.Recorder
	server, err := recorder.Listen(rc.Listen)
	if err != nil {
		return nil, err
	}
	server.WithLogger(log.With().Str("component", "recorder").Logger())
	server.AttachTimeout = rc.AttachTimeout
	server.PollInterval = rc.PollInterval
	go func() {
		if err := server.Serve(); err != nil {
			log.Error().Err(err).Msg("Recorder listener stopped")
		}
	}()

	catalog, err := recorder.OpenCatalog(ctx, a.cfg.Catalog.Driver, a.cfg.Catalog.DSN)
	if err != nil {
		server.Close()
		return nil, err
	}
	ac := a.cfg.Archive
	m := &recorder.Manager{
		Server:   server,
		Launcher: recorder.NewLauncher(rc.Command, server.Addr()),
		Catalog:  catalog,
		Archive: recorder.NewArchive(recorder.ArchiveConfig{
			Bucket:    ac.Bucket,
			Prefix:    ac.Prefix,
			Region:    ac.Region,
			Endpoint:  ac.Endpoint,
			PathStyle: ac.PathStyle,
			AccessKey: ac.AccessKey,
			SecretKey: ac.SecretKey,
		}),
		OutputDir:     rc.OutputDir,
		Format:        rc.Format,
		ResultTimeout: rc.ResultTimeout,
		OnFault:       metrics.RecorderFault,
		Logger:        log.With().Str("component", "recorder").Logger(),
	}
	log.Info().Str("listen", server.Addr()).Str("output", rc.OutputDir).Bool("archive", m.Archive != nil).Msg("Recorder enabled")
	return m, nil
}

func connectNATS(url string) (*nats.Conn, error) {
	log.Info().Str("url", url).Msg("Connecting to NATS...")
	return nats.Connect(url,
		nats.Name("adbcast"),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
	)
}

var _ webservice.DeviceBrowser = (*adb.Client)(nil)
