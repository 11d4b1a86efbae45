package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/confbridge/pkg/endpoint"
)

const sample = `
log:
  level: debug
api:
  listen: "127.0.0.1:9000"
endpoint:
  sound: nodev
  bridge:
    clock_rate: 8000
    frame_time: 10ms
  device:
    ec_tail_msec: 100
  codec:
    priorities:
      "L16*": 200
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "confbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Файл поверх значений по умолчанию", func(t *testing.T) {
		cfg, err := Load(writeFile(t, sample), Config{})
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
		assert.Equal(t, 5*time.Second, cfg.API.ShutdownTimeout)

		ep := cfg.Endpoint
		assert.Equal(t, endpoint.SoundNoDev, ep.Sound)
		assert.Equal(t, 8000, ep.Bridge.ClockRate)
		assert.Equal(t, 10*time.Millisecond, ep.Bridge.FrameTime)
		assert.Equal(t, 1, ep.Bridge.ChannelCount, "значение по умолчанию сохранено")
		assert.Equal(t, 254, ep.Bridge.MaxPorts)
		assert.Equal(t, 100, ep.Device.EcTailMsec)
		assert.Equal(t, -1, ep.Device.CaptureDev)
		assert.Equal(t, uint8(101), ep.Codec.TelephoneEventPT)
		assert.Equal(t, map[string]uint8{"L16*": 200}, ep.Codec.Priorities)
	})

	t.Run("Переопределения", func(t *testing.T) {
		overrides := Config{
			Log: LogConfig{Level: "warn"},
			API: APIConfig{Listen: ":7000"},
		}
		cfg, err := Load(writeFile(t, sample), overrides)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, ":7000", cfg.API.Listen)
		assert.Equal(t, 8000, cfg.Endpoint.Bridge.ClockRate, "пустые поля не переопределяют файл")
	})

	t.Run("Без файла", func(t *testing.T) {
		cfg, err := Load("", Config{})
		require.NoError(t, err)
		assert.Equal(t, Default().API, cfg.API)
		assert.Equal(t, endpoint.SoundNull, cfg.Endpoint.Sound)
	})

	t.Run("Ошибки", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), Config{})
		assert.Error(t, err)

		_, err = Load(writeFile(t, "endpoint:\n  unknown: 1\n"), Config{})
		assert.Error(t, err, "неизвестное поле")

		_, err = Load(writeFile(t, "endpoint:\n  sound: alsa\n"), Config{})
		assert.Error(t, err)

		_, err = Load(writeFile(t, "endpoint:\n  bridge:\n    max_ports: 0\n"), Config{})
		assert.Error(t, err)

		_, err = Load(writeFile(t, "api:\n  listen: \"\"\n"), Config{})
		assert.Error(t, err)
	})
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default().Log, cfg.Log)
}
