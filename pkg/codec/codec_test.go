package codec

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/confbridge/pkg/media"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = logr.Discard()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func ids(infos []Info) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.ID
	}
	return out
}

func TestEnumCodecs(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, []string{
		"PCMU/8000/1", "PCMA/8000/1", "G722/16000/1", "opus/48000/2", "L16/16000/1", "L16/8000/1",
	}, ids(m.EnumCodecs()))

	t.Run("Приоритет по шаблону", func(t *testing.T) {
		n, err := m.SetPriority("L16*", 200)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"L16/16000/1", "L16/8000/1", "PCMU/8000/1"}, ids(m.EnumCodecs())[:3])
	})

	t.Run("Префикс без учета регистра", func(t *testing.T) {
		n, err := m.SetPriority("pcma", PriorityHighest)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		first := m.EnumCodecs()[0]
		assert.Equal(t, "PCMA/8000/1", first.ID)
		assert.Equal(t, PriorityHighest, first.Priority)
	})

	t.Run("Выключение", func(t *testing.T) {
		_, err := m.SetPriority("opus/*", PriorityDisabled)
		require.NoError(t, err)
		list := m.EnumCodecs()
		assert.Equal(t, "opus/48000/2", list[len(list)-1].ID)
	})

	t.Run("Нет совпадений", func(t *testing.T) {
		_, err := m.SetPriority("speex*", 10)
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeNotFound))
	})

	t.Run("Приоритеты из конфигурации", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logger = logr.Discard()
		cfg.Priorities = map[string]uint8{"G722": 250}
		m2, err := NewManager(cfg)
		require.NoError(t, err)
		assert.Equal(t, "G722/16000/1", m2.EnumCodecs()[0].ID)

		cfg.Priorities = map[string]uint8{"iLBC": 1}
		_, err = NewManager(cfg)
		assert.Error(t, err)
	})
}

func TestCodecParam(t *testing.T) {
	m := newTestManager(t)

	p, err := m.Param("PCMU/8000/1")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), p.Info.PT)
	assert.Equal(t, 8000, p.Info.ClockRate)
	assert.Equal(t, 20*time.Millisecond, p.Ptime())
	assert.Equal(t, 160, p.PCMFormat().SamplesPerFrame())

	opus, err := m.Param("opus")
	require.NoError(t, err)
	assert.Equal(t, 2, opus.Info.ChannelCount)

	_, err = m.Param("L16")
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeNotFound), "неоднозначный префикс")
	_, err = m.Param("GSM/8000/1")
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeNotFound))

	t.Run("Изменение параметров", func(t *testing.T) {
		p.Setting.FramesPerPacket = 3
		p.Setting.VAD = true
		p.Info.PT = 77
		require.NoError(t, m.SetParam("PCMU/8000/1", &p))

		got, err := m.Param("PCMU/8000/1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.Setting.FramesPerPacket)
		assert.True(t, got.Setting.VAD)
		assert.Equal(t, uint8(0), got.Info.PT, "payload type не изменяется")

		p.Setting.FramesPerPacket = 0
		assert.True(t, media.HasErrorCode(m.SetParam("PCMU/8000/1", &p), media.ErrorCodeInvalidState))

		require.NoError(t, m.SetParam("PCMU/8000/1", nil))
		got, err = m.Param("PCMU/8000/1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Setting.FramesPerPacket)
	})

	t.Run("Копия параметров", func(t *testing.T) {
		got, err := m.Param("opus/48000/2")
		require.NoError(t, err)
		got.Setting.DecFmtp[0].Val = "0"
		again, err := m.Param("opus/48000/2")
		require.NoError(t, err)
		assert.Equal(t, "1", again.Setting.DecFmtp[0].Val)
	})
}

func TestFmtp(t *testing.T) {
	params := ParseFmtp(" mode=20; annexb=no ;")
	assert.Equal(t, []Fmtp{{Name: "mode", Val: "20"}, {Name: "annexb", Val: "no"}}, params)
	assert.Equal(t, "mode=20;annexb=no", FormatFmtp(params))

	events := ParseFmtp("0-15")
	assert.Equal(t, []Fmtp{{Val: "0-15"}}, events)
	assert.Equal(t, "0-15", FormatFmtp(events))
	assert.Empty(t, ParseFmtp(""))
}

func TestMediaDescription(t *testing.T) {
	m := newTestManager(t)
	md := m.MediaDescription(4000)

	assert.Equal(t, "audio", md.MediaName.Media)
	assert.Equal(t, 4000, md.MediaName.Port.Value)
	assert.Equal(t, []string{"0", "8", "9", "98", "101"}, md.MediaName.Formats)

	var rtpmaps, fmtps []string
	for _, a := range md.Attributes {
		switch a.Key {
		case "rtpmap":
			rtpmaps = append(rtpmaps, a.Value)
		case "fmtp":
			fmtps = append(fmtps, a.Value)
		}
	}
	assert.Equal(t, []string{"0 PCMU/8000", "8 PCMA/8000", "9 G722/8000", "98 opus/48000/2", "101 telephone-event/8000"}, rtpmaps)
	assert.Equal(t, []string{"98 useinbandfec=1", "101 0-15"}, fmtps)

	ptime, ok := md.Attribute("ptime")
	require.True(t, ok)
	assert.Equal(t, "20", ptime)
	_, ok = md.Attribute("sendrecv")
	assert.True(t, ok)

	sd := &sdp.SessionDescription{
		Origin:           sdp.Origin{Username: "-", SessionID: 1, SessionVersion: 1, NetworkType: "IN", AddressType: "IP4", UnicastAddress: "127.0.0.1"},
		SessionName:      "confbridge",
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{md},
	}
	raw, err := sd.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "m=audio 4000 RTP/AVP 0 8 9 98 101")
}

const remoteOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 5004 RTP/AVP 8 0 101\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=fmtp:101 0-15\r\n" +
	"a=sendrecv\r\n"

func TestNegotiate(t *testing.T) {
	m := newTestManager(t)

	var offer sdp.SessionDescription
	require.NoError(t, offer.Unmarshal([]byte(remoteOffer)))
	require.Len(t, offer.MediaDescriptions, 1)
	md := offer.MediaDescriptions[0]

	id, p, err := m.Negotiate(md)
	require.NoError(t, err)
	assert.Equal(t, "PCMU/8000/1", id, "статический payload type без rtpmap")
	assert.Equal(t, uint8(0), p.Info.PT)

	_, err = m.SetPriority("PCMU", PriorityDisabled)
	require.NoError(t, err)
	id, p, err = m.Negotiate(md)
	require.NoError(t, err)
	assert.Equal(t, "PCMA/8000/1", id)
	assert.Equal(t, uint8(8), p.Info.PT)

	_, err = m.SetPriority("PCMA", PriorityDisabled)
	require.NoError(t, err)
	_, _, err = m.Negotiate(md)
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeNotFound))

	_, _, err = m.Negotiate(nil)
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))

	t.Run("Динамический payload type", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.SetPriority("L16/16000", PriorityHighest)
		require.NoError(t, err)
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{Media: "audio", Formats: []string{"112"}},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: "112 L16/16000"},
				{Key: "fmtp", Value: "112 foo=bar"},
			},
		}
		id, p, err := m.Negotiate(md)
		require.NoError(t, err)
		assert.Equal(t, "L16/16000/1", id)
		assert.Equal(t, uint8(112), p.Info.PT)
		assert.Equal(t, []Fmtp{{Name: "foo", Val: "bar"}}, p.Setting.EncFmtp)
	})
}

func TestEncoders(t *testing.T) {
	m := newTestManager(t)
	frame := media.Frame{0, 1000, -1000, 32767, -32768, 12345}

	for _, id := range []string{"PCMU/8000/1", "PCMA/8000/1"} {
		t.Run(id, func(t *testing.T) {
			c, err := m.Encoder(id)
			require.NoError(t, err)
			assert.Equal(t, id, c.ID())
			payload, err := c.Encode(frame)
			require.NoError(t, err)
			assert.Len(t, payload, len(frame))
			decoded, err := c.Decode(payload)
			require.NoError(t, err)
			for i := range frame {
				assert.InDelta(t, frame[i], decoded[i], float64(abs(frame[i]))/16+16, "отсчет %d", i)
			}
		})
	}

	t.Run("L16", func(t *testing.T) {
		c, err := m.Encoder("L16/8000/1")
		require.NoError(t, err)
		payload, err := c.Encode(frame)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x00, 0x03, 0xE8}, payload[:4], "сетевой порядок байт")
		decoded, err := c.Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, frame, decoded)

		_, err = c.Decode([]byte{1, 2, 3})
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
	})

	t.Run("Без кодировщика", func(t *testing.T) {
		_, err := m.Encoder("opus/48000/2")
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeUnsupportedCapability))
	})
}

func abs(v int16) int {
	if v < 0 {
		return -int(v)
	}
	return int(v)
}
