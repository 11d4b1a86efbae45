package stream

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/confbridge/pkg/codec"
	"github.com/arzzra/confbridge/pkg/media"
)

func TestParseDTMF(t *testing.T) {
	digits, err := ParseDTMF("1a#*")
	require.NoError(t, err)
	assert.Equal(t, []DTMFDigit{1, 12, 11, 10}, digits)
	assert.Equal(t, "A", digits[1].String())
	assert.Equal(t, "?", DTMFDigit(16).String())

	_, err = ParseDTMF("12x")
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeNotFound))
}

func TestDialDTMF(t *testing.T) {
	b := newTestBridge(t)

	t.Run("Без telephone-event", func(t *testing.T) {
		p, err := New(b, "PCMU/8000/1", codecParam(t, "PCMU/8000/1"), &packetLog{}, testConfig())
		require.NoError(t, err)
		defer p.Close()
		err = p.DialDTMF("1", 100*time.Millisecond)
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeUnsupportedCapability))
	})

	cfg := testConfig()
	cfg.EventPT = 101
	log := &packetLog{}
	p, err := New(b, "PCMU/8000/1", codecParam(t, "PCMU/8000/1"), log, cfg)
	require.NoError(t, err)

	err = p.DialDTMF("5", 0)
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
	require.NoError(t, p.DialDTMF("5", 100*time.Millisecond))
	require.NoError(t, p.Close())

	log.mu.Lock()
	packets := log.packets
	log.mu.Unlock()
	require.Len(t, packets, 6)
	for i, pkt := range packets {
		assert.Equal(t, uint8(101), pkt.PayloadType)
		assert.Equal(t, uint16(100+i), pkt.SequenceNumber)
		assert.Equal(t, uint32(1000), pkt.Timestamp)
		assert.Equal(t, i == 0, pkt.Marker)
		require.Len(t, pkt.Payload, 4)
		assert.Equal(t, byte(5), pkt.Payload[0])
		assert.Equal(t, i >= 3, pkt.Payload[1]&0x80 != 0, "флаг конца события")
		assert.Equal(t, uint16(800), uint16(pkt.Payload[2])<<8|uint16(pkt.Payload[3]))
	}

	err = p.DialDTMF("1", 100*time.Millisecond)
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState), "порт закрыт")

	t.Run("Прием событий", func(t *testing.T) {
		var events []DTMFEvent
		rcfg := testConfig()
		rcfg.EventPT = 101
		rcfg.OnDTMF = func(ev DTMFEvent) { events = append(events, ev) }
		r, err := New(b, "PCMU/8000/1", codecParam(t, "PCMU/8000/1"), &packetLog{}, rcfg)
		require.NoError(t, err)
		defer r.Close()

		for _, pkt := range packets {
			require.NoError(t, r.WriteRTP(pkt))
		}
		require.Len(t, events, 1, "повторы пакетов не создают новых событий")
		assert.Equal(t, DTMFDigit(5), events[0].Digit)
		assert.Equal(t, 100*time.Millisecond, events[0].Duration)
		assert.Equal(t, uint64(1), r.Stats().DTMFReceived)
		assert.Equal(t, uint64(0), r.Stats().PacketsReceived, "события не попадают в аудио")

		bad := *packets[0]
		bad.Payload = []byte{1}
		assert.True(t, media.HasErrorCode(r.WriteRTP(&bad), media.ErrorCodeInvalidState))
	})
}

func TestNegotiatedEventPT(t *testing.T) {
	b := newTestBridge(t)
	cfg := codec.DefaultConfig()
	cfg.Logger = logr.Discard()
	codecs, err := codec.NewManager(cfg)
	require.NoError(t, err)

	remote := &sdp.MediaDescription{
		MediaName: sdp.MediaName{Media: "audio", Port: sdp.RangedPort{Value: 5004}, Formats: []string{"0", "100"}},
		Attributes: []sdp.Attribute{
			{Key: "rtpmap", Value: "100 telephone-event/8000"},
			{Key: "fmtp", Value: "100 0-15"},
		},
	}
	pt, ok := codec.RemoteEventPT(remote)
	require.True(t, ok)
	assert.Equal(t, uint8(100), pt)

	log := &packetLog{}
	p, err := NewNegotiated(b, codecs, remote, log, testConfig())
	require.NoError(t, err)
	require.NoError(t, p.DialDTMF("#", 50*time.Millisecond))
	require.NoError(t, p.Close())

	log.mu.Lock()
	defer log.mu.Unlock()
	require.NotEmpty(t, log.packets)
	assert.Equal(t, uint8(100), log.packets[0].PayloadType)
	assert.Equal(t, byte(11), log.packets[0].Payload[0])
}
