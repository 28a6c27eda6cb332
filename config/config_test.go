package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wire "adbcast/scrcpy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adbcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5037", cfg.ADB.Addr)
	assert.Equal(t, 300, cfg.ADB.ConnectAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.ADB.RetryInterval)
	assert.Equal(t, "2.1.1", cfg.Scrcpy.Version)
	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, 256, cfg.HTTP.ViewerQueue)
	assert.Equal(t, "127.0.0.1:45678", cfg.Recorder.Listen)
	assert.Equal(t, "sqlite3", cfg.Catalog.Driver)
	assert.Equal(t, "adbcast.sessions", cfg.Events.Subject)

	layout, err := cfg.Layout()
	require.NoError(t, err)
	assert.Equal(t, wire.LayoutV2, layout)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
adb:
  addr: 10.0.0.2:5037
  retry_interval: 25ms
scrcpy:
  control_layout: v1
  defaults:
    max_size: "1024"
    audio: "false"
recorder:
  enabled: true
  command: [ffmpeg-mux, --quiet]
log:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:5037", cfg.ADB.Addr)
	assert.Equal(t, 25*time.Millisecond, cfg.ADB.RetryInterval)
	assert.Equal(t, time.Second, cfg.ADB.DialTimeout)
	assert.Equal(t, []string{"ffmpeg-mux", "--quiet"}, cfg.Recorder.Command)
	assert.Equal(t, "json", cfg.Log.Format)

	opts, err := cfg.ServerOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.MaxSize)
	assert.Equal(t, 1024, *opts.MaxSize)
	assert.False(t, opts.AudioEnabled())

	layout, err := cfg.Layout()
	require.NoError(t, err)
	assert.Equal(t, wire.LayoutV1, layout)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "http:\n  port: 80\n"))
	assert.ErrorContains(t, err, "port")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"scrcpy.defaults":       "scrcpy:\n  defaults:\n    bogus: \"1\"\n",
		"scrcpy.control_layout": "scrcpy:\n  control_layout: v9\n",
		"catalog.driver":        "catalog:\n  driver: mysql\n",
		"log.format":            "log:\n  format: xml\n",
		"adb.connect_attempts":  "adb:\n  connect_attempts: 0\n",
	}
	for key, body := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, key, fe.Key)
		})
	}
}

func TestLoadFrameMetaRequired(t *testing.T) {
	_, err := Load(writeConfig(t, "scrcpy:\n  defaults:\n    send_frame_meta: \"false\"\n"))
	var oe *wire.InvalidOptionError
	assert.ErrorAs(t, err, &oe)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADBCAST_ADB_ADDR", "adb:5037")
	t.Setenv("ADBCAST_HTTP_ADDR", ":9000")
	t.Setenv("ADBCAST_LOG_LEVEL", "debug")
	t.Setenv("ADBCAST_CATALOG_DSN", "postgres://x")
	t.Setenv("ADBCAST_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("ADBCAST_ARCHIVE_BUCKET", "recordings")

	cfg, err := Load(writeConfig(t, "adb:\n  addr: ignored:1\n"))
	require.NoError(t, err)
	assert.Equal(t, "adb:5037", cfg.ADB.Addr)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres://x", cfg.Catalog.DSN)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.NATSURL)
	assert.Equal(t, "recordings", cfg.Archive.Bucket)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().ADB, cfg.ADB)
}
