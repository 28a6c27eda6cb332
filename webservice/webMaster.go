// Package webservice is the HTTP surface of adbcast: websocket and WebRTC
// viewers, device console endpoints and metrics.
package webservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"adbcast/adb"
	"adbcast/recorder"
	wire "adbcast/scrcpy"
	"adbcast/streamServer"
)

// DeviceBrowser is the part of the adb client the console endpoints use.
type DeviceBrowser interface {
	Devices(ctx context.Context) ([]adb.Device, error)
	OpenSync(ctx context.Context, serial string) (*adb.SyncConn, error)
}

// RecordingLister lists finished recordings, newest first.
type RecordingLister interface {
	List(ctx context.Context) ([]recorder.Recording, error)
}

type Config struct {
	Registry *streamServer.Registry
	ADB      DeviceBrowser
	// Recordings may be nil when recording is disabled.
	Recordings RecordingLister
	// Defaults are the server options every request is merged over.
	Defaults       wire.Options
	ICEServers     []string
	AllowedOrigins []string
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

type WebMaster struct {
	registry       *streamServer.Registry
	adb            DeviceBrowser
	recordings     RecordingLister
	defaults       wire.Options
	iceServers     []string
	allowedOrigins []string
	gatherer       prometheus.Gatherer
	logger         zerolog.Logger
}

func New(cfg Config) *WebMaster {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &WebMaster{
		registry:       cfg.Registry,
		adb:            cfg.ADB,
		recordings:     cfg.Recordings,
		defaults:       cfg.Defaults,
		iceServers:     cfg.ICEServers,
		allowedOrigins: origins,
		gatherer:       cfg.Gatherer,
		logger:         cfg.Logger.With().Str("component", "web").Logger(),
	}
}

// Handler builds the router wrapped in the CORS middleware.
func (wm *WebMaster) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), wm.accessLog())

	r.GET("/ws/screen/:device", wm.handleScreenWS)
	r.POST("/webrtc/:device", wm.handleWebRTC)

	api := r.Group("/api")
	{
		api.GET("/devices", wm.handleListDevices)
		api.GET("/devices/:device/files", wm.handleListFiles)
		api.GET("/devices/:device/file", wm.handlePullFile)
		api.GET("/recordings", wm.handleListRecordings)
	}

	if wm.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(wm.gatherer, promhttp.HandlerOpts{})))
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: wm.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})(r)
}

func (wm *WebMaster) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		wm.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (wm *WebMaster) originAllowed(origin string) bool {
	if origin == "" || slices.Contains(wm.allowedOrigins, "*") {
		return true
	}
	return slices.Contains(wm.allowedOrigins, origin)
}

// deviceParam decodes a serial from a path segment. Network serials are
// written with ',' for '.' and '_' for ':' so they fit in one segment.
func deviceParam(c *gin.Context) string {
	return strings.NewReplacer(",", ".", "_", ":").Replace(c.Param("device"))
}

// sessionOptions merges a client's server options over the defaults.
// Values may be JSON strings, numbers or booleans.
func (wm *WebMaster) sessionOptions(raw map[string]any) (wire.Options, error) {
	kv := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			kv[k] = v
		case float64:
			kv[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
		default:
			kv[k] = fmt.Sprint(v)
		}
	}
	opts, err := wire.ParseOptions(kv)
	if err != nil {
		return wire.Options{}, err
	}
	merged := wm.defaults.Merge(opts)
	if err := merged.Validate(); err != nil {
		return wire.Options{}, err
	}
	return merged, nil
}

func (wm *WebMaster) queryOptions(c *gin.Context) (wire.Options, error) {
	q := c.Query("config")
	if q == "" {
		return wm.sessionOptions(nil)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(q), &raw); err != nil {
		return wire.Options{}, fmt.Errorf("config: %w", err)
	}
	return wm.sessionOptions(raw)
}

// attachStatus maps an attach failure to an HTTP status.
func attachStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, streamServer.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
