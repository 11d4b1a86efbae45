package player

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/media"
)

// frameSink сохраняет кадры, переданные мостом
type frameSink struct {
	format media.Format
	mu     sync.Mutex
	frames []media.Frame
}

func (s *frameSink) Format() media.Format { return s.format }

func (s *frameSink) PutFrame(f media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f.Clone())
	return nil
}

func (s *frameSink) last() media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func writeWav(t *testing.T, dir, name string, rate, channels int, samples []int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func constSamples(n, value int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = value
	}
	return s
}

func newTestBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	cfg := bridge.DefaultConfig()
	cfg.Logger = logr.Discard()
	b, err := bridge.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func connectSink(t *testing.T, b *bridge.Bridge, p *Player) *frameSink {
	t.Helper()
	sink := &frameSink{format: b.Format()}
	id, err := b.Register(sink, bridge.KindSoundDevice, "speaker")
	require.NoError(t, err)
	require.NoError(t, b.Connect(p.PortID(), id))
	return sink
}

func TestPlayerEOF(t *testing.T) {
	dir := t.TempDir()
	ramp := make([]int, 8000)
	for i := range ramp {
		ramp[i] = i%1000 + 1
	}
	file := writeWav(t, dir, "greeting.wav", 16000, 1, ramp)

	t.Run("Конец файла и позиция", func(t *testing.T) {
		b := newTestBridge(t)
		p, err := CreatePlayer(b, file, 0)
		require.NoError(t, err)
		defer p.Close()

		eof := make(chan struct{}, 1)
		p.SetEOFHandler(func() bool {
			eof <- struct{}{}
			return false
		})
		sink := connectSink(t, b, p)

		info, err := p.Info()
		require.NoError(t, err)
		assert.Equal(t, media.FormatL16, info.FormatID)
		assert.Equal(t, 16, info.PayloadBitsPerSample)
		assert.Equal(t, uint32(16000), info.SizeBytes)
		assert.Equal(t, uint32(8000), info.SizeSamples)

		var prev uint32
		for i := 0; i < 25; i++ {
			b.Tick()
			pos, err := p.Pos()
			require.NoError(t, err)
			assert.GreaterOrEqual(t, pos, prev)
			assert.LessOrEqual(t, pos, uint32(8000))
			prev = pos
		}
		assert.Equal(t, uint32(8000), prev)
		assert.Equal(t, int16(1), sink.frames[0][0])

		select {
		case <-eof:
		case <-time.After(2 * time.Second):
			t.Fatal("событие конца файла не получено")
		}
		assert.Eventually(t, func() bool { return !p.IsPlaying() }, time.Second, 5*time.Millisecond)

		b.Tick()
		assert.True(t, sink.last().IsSilent())
		pos, err := p.Pos()
		require.NoError(t, err)
		assert.Equal(t, uint32(8000), pos)
	})

	t.Run("Повтор по умолчанию", func(t *testing.T) {
		b := newTestBridge(t)
		p, err := CreatePlayer(b, file, 0)
		require.NoError(t, err)
		defer p.Close()
		connectSink(t, b, p)

		for i := 0; i < 25; i++ {
			b.Tick()
		}
		assert.Eventually(t, func() bool { return p.IsPlaying() }, time.Second, 5*time.Millisecond)
		pos, err := p.Pos()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), pos)
	})

	t.Run("NoLoop останавливает воспроизведение", func(t *testing.T) {
		b := newTestBridge(t)
		p, err := CreatePlayer(b, file, NoLoop)
		require.NoError(t, err)
		defer p.Close()

		called := make(chan struct{}, 1)
		p.SetEOFHandler(func() bool {
			called <- struct{}{}
			return true
		})
		connectSink(t, b, p)

		for i := 0; i < 25; i++ {
			b.Tick()
		}
		select {
		case <-called:
		case <-time.After(2 * time.Second):
			t.Fatal("обработчик конца файла не вызван")
		}
		assert.Eventually(t, func() bool { return !p.IsPlaying() }, time.Second, 5*time.Millisecond)

		require.NoError(t, p.SetPos(4000))
		assert.True(t, p.IsPlaying())
		pos, err := p.Pos()
		require.NoError(t, err)
		assert.Equal(t, uint32(4000), pos)
	})
}

func TestPlayerSetPos(t *testing.T) {
	b := newTestBridge(t)
	file := writeWav(t, t.TempDir(), "stereo.wav", 8000, 2, constSamples(1600, 300))
	p, err := CreatePlayer(b, file, 0)
	require.NoError(t, err)
	defer p.Close()

	info, err := p.Info()
	require.NoError(t, err)
	assert.Equal(t, uint32(800), info.SizeSamples)

	require.NoError(t, p.SetPos(400))
	pos, err := p.Pos()
	require.NoError(t, err)
	assert.Equal(t, uint32(400), pos)

	err = p.SetPos(801)
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))

	// Стерео 8 кГц приводится к формату моста
	sink := connectSink(t, b, p)
	b.Tick()
	require.Len(t, sink.last(), b.Format().SamplesPerFrame())
	assert.Equal(t, int16(300), sink.last()[0])
}

func TestPlaylist(t *testing.T) {
	dir := t.TempDir()
	first := writeWav(t, dir, "first.wav", 16000, 1, constSamples(480, 100))
	second := writeWav(t, dir, "second.wav", 16000, 1, constSamples(160, 200))
	narrow := writeWav(t, dir, "narrow.wav", 8000, 1, constSamples(160, 1))

	t.Run("Переход между файлами", func(t *testing.T) {
		b := newTestBridge(t)
		p, err := CreatePlaylist(b, []string{first, second}, "prompts", NoLoop)
		require.NoError(t, err)
		defer p.Close()
		assert.True(t, p.IsPlaylist())

		eof := make(chan struct{}, 1)
		p.SetEOFHandler(func() bool {
			eof <- struct{}{}
			return false
		})
		sink := connectSink(t, b, p)

		b.Tick()
		assert.Equal(t, int16(100), sink.last()[319])

		b.Tick()
		frame := sink.last()
		assert.Equal(t, int16(100), frame[159])
		assert.Equal(t, int16(200), frame[160])
		assert.Equal(t, int16(200), frame[319])

		select {
		case <-eof:
		case <-time.After(2 * time.Second):
			t.Fatal("событие конца списка не получено")
		}
	})

	t.Run("Операции файла недоступны", func(t *testing.T) {
		b := newTestBridge(t)
		p, err := CreatePlaylist(b, []string{first, second}, "", 0)
		require.NoError(t, err)
		defer p.Close()

		_, err = p.Info()
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
		_, err = p.Pos()
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
		assert.True(t, media.HasErrorCode(p.SetPos(0), media.ErrorCodeInvalidState))
	})

	t.Run("Разные форматы", func(t *testing.T) {
		b := newTestBridge(t)
		_, err := CreatePlaylist(b, []string{first, narrow}, "mixed", 0)
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
		assert.Empty(t, b.Ports())

		_, err = CreatePlaylist(b, nil, "empty", 0)
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
	})
}

func TestPlayerErrors(t *testing.T) {
	b := newTestBridge(t)
	dir := t.TempDir()

	_, err := CreatePlayer(b, filepath.Join(dir, "missing.wav"), 0)
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeNotFound))

	junk := filepath.Join(dir, "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("not a riff file at all"), 0o644))
	_, err = CreatePlayer(b, junk, 0)
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeUnsupportedCapability))
}

func TestFromAudioMedia(t *testing.T) {
	b := newTestBridge(t)
	file := writeWav(t, t.TempDir(), "a.wav", 16000, 1, constSamples(320, 1))
	p, err := CreatePlayer(b, file, 0)
	require.NoError(t, err)

	assert.Same(t, p, FromAudioMedia(&p.AudioMedia))
	assert.Same(t, p, FromAudioMedia(bridge.AudioMediaFromMedia(p)))
	assert.Nil(t, FromAudioMedia(nil))

	var other bridge.AudioMedia
	require.NoError(t, other.RegisterMediaPort(b, &frameSink{format: b.Format()}, bridge.KindRecorder, "rec"))
	assert.Nil(t, FromAudioMedia(&other))

	// Приведение работает и после снятия с регистрации
	p.Close()
	assert.Same(t, p, FromAudioMedia(&p.AudioMedia))
}
