package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/confbridge/pkg/media"
)

// rtpmapName возвращает "имя/частота[/каналы]" для атрибута rtpmap.
// Для G.722 в SDP указывается 8000 (RFC 3551).
func rtpmapName(id string, info ParamInfo) string {
	name, _ := splitID(id)
	rate := info.ClockRate
	if strings.EqualFold(name, "G722") {
		rate = 8000
	}
	if info.ChannelCount > 1 {
		return fmt.Sprintf("%s/%d/%d", name, rate, info.ChannelCount)
	}
	return fmt.Sprintf("%s/%d", name, rate)
}

// MediaDescription строит SDP описание аудио для включенных кодеков в
// порядке приоритета: форматы, rtpmap, fmtp, ptime и sendrecv.
func (m *Manager) MediaDescription(port int) *sdp.MediaDescription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: port},
			Protos: []string{"RTP", "AVP"},
		},
		Attributes: make([]sdp.Attribute, 0),
	}

	ptime := 0
	for _, info := range m.sortedLocked() {
		if info.Priority == PriorityDisabled {
			break
		}
		c := m.codecs[info.ID]
		pt := strconv.Itoa(int(c.param.Info.PT))
		md.MediaName.Formats = append(md.MediaName.Formats, pt)
		md.Attributes = append(md.Attributes, sdp.Attribute{
			Key:   "rtpmap",
			Value: pt + " " + rtpmapName(c.id, c.param.Info),
		})
		if len(c.param.Setting.DecFmtp) > 0 {
			md.Attributes = append(md.Attributes, sdp.Attribute{
				Key:   "fmtp",
				Value: pt + " " + FormatFmtp(c.param.Setting.DecFmtp),
			})
		}
		if ptime == 0 {
			ptime = int(c.param.Ptime().Milliseconds())
		}
	}

	if m.eventPT != 0 {
		pt := strconv.Itoa(int(m.eventPT))
		md.MediaName.Formats = append(md.MediaName.Formats, pt)
		md.Attributes = append(md.Attributes,
			sdp.Attribute{Key: "rtpmap", Value: pt + " telephone-event/8000"},
			sdp.Attribute{Key: "fmtp", Value: pt + " 0-15"},
		)
	}
	if ptime > 0 {
		md.Attributes = append(md.Attributes, sdp.Attribute{Key: "ptime", Value: strconv.Itoa(ptime)})
	}
	md.Attributes = append(md.Attributes, sdp.Attribute{Key: "sendrecv"})
	return md
}

// remoteFormat - формат из SDP удаленной стороны
type remoteFormat struct {
	pt   uint8
	name string
	rate int
	ch   int
	fmtp []Fmtp
}

func parseRemote(md *sdp.MediaDescription) []remoteFormat {
	formats := make([]remoteFormat, 0, len(md.MediaName.Formats))
	index := make(map[uint8]int)
	for _, f := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		index[uint8(pt)] = len(formats)
		formats = append(formats, remoteFormat{pt: uint8(pt), ch: 1})
	}

	for _, a := range md.Attributes {
		if a.Key != "rtpmap" && a.Key != "fmtp" {
			continue
		}
		ptStr, rest, ok := strings.Cut(a.Value, " ")
		if !ok {
			continue
		}
		pt, err := strconv.ParseUint(ptStr, 10, 8)
		if err != nil {
			continue
		}
		i, ok := index[uint8(pt)]
		if !ok {
			continue
		}
		if a.Key == "fmtp" {
			formats[i].fmtp = ParseFmtp(rest)
			continue
		}
		parts := strings.Split(strings.TrimSpace(rest), "/")
		formats[i].name = parts[0]
		if len(parts) > 1 {
			formats[i].rate, _ = strconv.Atoi(parts[1])
		}
		if len(parts) > 2 {
			formats[i].ch, _ = strconv.Atoi(parts[2])
		}
	}

	// Статические payload type без rtpmap (RFC 3551)
	for i := range formats {
		if formats[i].name != "" {
			continue
		}
		switch formats[i].pt {
		case 0:
			formats[i].name, formats[i].rate = "PCMU", 8000
		case 8:
			formats[i].name, formats[i].rate = "PCMA", 8000
		case 9:
			formats[i].name, formats[i].rate = "G722", 8000
		}
	}
	return formats
}

func (rf remoteFormat) matches(id string, info ParamInfo) bool {
	name, _ := splitID(id)
	if rf.name == "" || !strings.EqualFold(rf.name, name) {
		return false
	}
	if !strings.EqualFold(name, "G722") && rf.rate != info.ClockRate {
		return false
	}
	return rf.ch == info.ChannelCount || (rf.ch == 0 && info.ChannelCount == 1)
}

// Negotiate выбирает включенный кодек с наибольшим приоритетом среди
// предложенных удаленной стороной. Возвращает идентификатор кодека и его
// параметры с payload type удаленной стороны и ее fmtp в EncFmtp.
func (m *Manager) Negotiate(md *sdp.MediaDescription) (string, Param, error) {
	if md == nil || md.MediaName.Media != "audio" {
		return "", Param{}, media.NewError(media.ErrorCodeInvalidState, "ожидается аудио описание SDP")
	}
	remote := parseRemote(md)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, info := range m.sortedLocked() {
		if info.Priority == PriorityDisabled {
			break
		}
		c := m.codecs[info.ID]
		for _, rf := range remote {
			if !rf.matches(c.id, c.param.Info) {
				continue
			}
			p := c.param.clone()
			p.Info.PT = rf.pt
			p.Setting.EncFmtp = rf.fmtp
			return c.id, p, nil
		}
	}
	return "", Param{}, media.NewError(media.ErrorCodeNotFound, "нет общих кодеков с удаленной стороной")
}

// NewCodec создает кодировщик для согласованных параметров
func NewCodec(id string, param Param) (Codec, error) {
	if err := param.validate(); err != nil {
		return nil, err
	}
	return newCodec(id, param.clone())
}

// RemoteEventPT возвращает payload type telephone-event из SDP удаленной
// стороны
func RemoteEventPT(md *sdp.MediaDescription) (uint8, bool) {
	if md == nil {
		return 0, false
	}
	for _, rf := range parseRemote(md) {
		if strings.EqualFold(rf.name, "telephone-event") {
			return rf.pt, true
		}
	}
	return 0, false
}
