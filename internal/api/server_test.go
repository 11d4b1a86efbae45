package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/confbridge/pkg/codec"
	"github.com/arzzra/confbridge/pkg/endpoint"
	"github.com/arzzra/confbridge/pkg/media"
)

func newTestServer(t *testing.T) (*Server, *endpoint.Endpoint) {
	t.Helper()
	cfg := endpoint.DefaultConfig()
	cfg.Sound = endpoint.SoundNoDev
	cfg.Logger = logr.Discard()
	ep, err := endpoint.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })

	s := NewServer("127.0.0.1:0", ep, logr.Discard())
	t.Cleanup(s.CloseMedia)
	return s, ep
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		code   media.MediaErrorCode
		status int
	}{
		{media.ErrorCodeInvalidPort, http.StatusNotFound},
		{media.ErrorCodeNotFound, http.StatusNotFound},
		{media.ErrorCodeInvalidState, http.StatusConflict},
		{media.ErrorCodeResourceExhausted, http.StatusServiceUnavailable},
		{media.ErrorCodeUnsupportedCapability, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(media.NewError(tt.code, "ошибка")))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.EOF))
}

func TestPortsAndConnections(t *testing.T) {
	s, ep := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/tones", ToneRequest{Digits: "123", OnMsec: 60, OffMsec: 20})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	gen := decode[CreatedResponse](t, w).PortID

	w = do(t, s, http.MethodGet, "/api/v1/ports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ports := decode[[]PortResponse](t, w)
	require.Len(t, ports, 2)
	assert.Equal(t, "sound-device", ports[0].Name)

	sound := ports[0].PortID
	w = do(t, s, http.MethodPost, "/api/v1/connections", map[string]int{"source": gen, "sink": sound})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	_, err := ep.MasterPort().Process(nil)
	require.NoError(t, err)

	w = do(t, s, http.MethodGet, "/api/v1/ports/"+strconv.Itoa(gen), nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[PortResponse](t, w)
	assert.Equal(t, []int{sound}, info.Listeners)
	assert.Greater(t, info.TxLevel, uint(0))

	w = do(t, s, http.MethodPut, "/api/v1/ports/"+strconv.Itoa(gen)+"/level", map[string]float32{"tx": 0.5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.5, decode[PortResponse](t, w).TxLevelAdj, 1e-6)

	w = do(t, s, http.MethodPut, "/api/v1/ports/"+strconv.Itoa(gen)+"/level", map[string]float32{"rx": -1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodDelete, "/api/v1/connections", map[string]int{"source": gen, "sink": sound})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodDelete, "/api/v1/media/"+strconv.Itoa(gen), nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, http.MethodDelete, "/api/v1/media/"+strconv.Itoa(gen), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	t.Run("Ошибки запросов", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/ports/99", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, media.ErrorCodeInvalidPort.String(), decode[errorResponse](t, w).Code)

		w = do(t, s, http.MethodGet, "/api/v1/ports/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, s, http.MethodPost, "/api/v1/connections", map[string]int{"source": sound})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, s, http.MethodPost, "/api/v1/connections", map[string]int{"source": sound, "sink": 42})
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = do(t, s, http.MethodPost, "/api/v1/tones", ToneRequest{Digits: "1x"})
		assert.Equal(t, http.StatusNotFound, w.Code, "неизвестная цифра")
	})
}

func TestFileMedia(t *testing.T) {
	s, ep := newTestServer(t)
	file := filepath.Join(t.TempDir(), "call.wav")

	w := do(t, s, http.MethodPost, "/api/v1/recorders", RecorderRequest{File: file, Encoding: "ulaw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[CreatedResponse](t, w).PortID

	w = do(t, s, http.MethodPost, "/api/v1/recorders", RecorderRequest{File: "call.mp3"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = do(t, s, http.MethodPost, "/api/v1/recorders", RecorderRequest{File: file, Encoding: "gsm"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	sound := ep.Devices().CaptureDevMedia().PortID()
	w = do(t, s, http.MethodPost, "/api/v1/connections", map[string]int{"source": sound, "sink": rec})
	require.Equal(t, http.StatusNoContent, w.Code)

	capture := media.NewFrame(ep.MasterPort().Format().SamplesPerFrame())
	for i := range capture {
		capture[i] = 2000
	}
	for i := 0; i < 5; i++ {
		_, err := ep.MasterPort().Process(capture)
		require.NoError(t, err)
	}

	w = do(t, s, http.MethodDelete, "/api/v1/media/"+strconv.Itoa(rec), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/players", PlayerRequest{Files: []string{file}, NoLoop: true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pl := decode[CreatedResponse](t, w).PortID

	w = do(t, s, http.MethodGet, "/api/v1/ports/"+strconv.Itoa(pl), nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[PortResponse](t, w)
	require.NotNil(t, info.Player)
	assert.True(t, info.Player.Playing)
	assert.False(t, info.Player.Playlist)

	w = do(t, s, http.MethodPost, "/api/v1/players", PlayerRequest{Files: []string{"missing.wav"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDevicesAndCodecs(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	devices := decode[DevicesResponse](t, w)
	assert.Equal(t, "nodev", devices.State)
	assert.Equal(t, -1, devices.CaptureDev)
	assert.Empty(t, devices.Devices)

	w = do(t, s, http.MethodGet, "/api/v1/codecs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	codecs := decode[[]codec.Info](t, w)
	require.NotEmpty(t, codecs)
	assert.Equal(t, "PCMU/8000/1", codecs[0].ID)

	w = do(t, s, http.MethodPut, "/api/v1/codecs/priority", map[string]any{"pattern": "PCMA", "priority": 255})
	require.Equal(t, http.StatusOK, w.Code)
	codecs = decode[[]codec.Info](t, w)
	assert.Equal(t, "PCMA/8000/1", codecs[0].ID)

	w = do(t, s, http.MethodPut, "/api/v1/codecs/priority", map[string]any{"pattern": "gsm", "priority": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, ep := newTestServer(t)
	_, err := ep.MasterPort().Process(nil)
	require.NoError(t, err)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "confbridge_bridge_ticks_total 1"))
}
