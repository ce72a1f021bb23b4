package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvarr-player/internal/config"
	"github.com/jmylchreest/tvarr-player/internal/observability"
	"github.com/jmylchreest/tvarr-player/internal/stream"
)

func TestAdapterName(t *testing.T) {
	tests := []struct {
		kind stream.Kind
		want string
	}{
		{stream.AdaptiveManifest, "manifest"},
		{stream.RawTransportStream, "transport"},
		{stream.ProxiedTransportStream, "transport"},
		{stream.ProgressiveFile, "native"},
		{stream.NativeFallback, "native"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, adapterName(tt.kind), tt.kind.String())
	}
}

func TestHumanize(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	out := humanize(v.AllSettings())

	player, ok := out["player"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "8s", player["startup_timeout"])
}

func TestNewEngine(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	t.Run("wires optional services", func(t *testing.T) {
		e := newEngine(cfg, observability.Discard())
		defer e.close()
		assert.NotNil(t, e.correlator)
		assert.NotNil(t, e.newSink("embedded"))
	})

	t.Run("recording service disabled", func(t *testing.T) {
		c := *cfg
		c.Services.RecordingsURL = ""
		e := newEngine(&c, observability.Discard())
		defer e.close()
		assert.Nil(t, e.correlator)
		cancel := e.followRecording()
		cancel()
	})
}

func TestNewAPIServer_RegistersAllRoutes(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	e := newEngine(cfg, observability.Discard())
	defer e.close()

	var handler http.Handler
	require.NotPanics(t, func() {
		handler = newAPIServer(cfg, e, observability.Discard()).Handler()
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/api/v1/player/state").Code)
	assert.Equal(t, http.StatusOK, get("/livez").Code)

	spec := get("/openapi.json")
	require.Equal(t, http.StatusOK, spec.Code)
	for _, path := range []string{
		"/api/v1/player/play",
		"/api/v1/player/events",
		"/api/v1/recording",
		"/health",
	} {
		assert.Contains(t, spec.Body.String(), `"`+path+`"`)
	}
}
