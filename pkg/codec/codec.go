// Package codec содержит менеджер кодеков конференц-моста.
//
// Менеджер хранит список поддерживаемых кодеков с приоритетами и
// параметрами, строит SDP описание медиа (rtpmap, fmtp, ptime) для
// включенных кодеков и выбирает кодек по SDP удаленной стороны.
// Для G.711 и L16 доступны кодировщики кадров.
//
// Идентификатор кодека имеет вид "имя/частота/каналы", например
// "PCMU/8000/1" или "opus/48000/2".
package codec

import (
	"strings"
	"time"

	"github.com/arzzra/confbridge/pkg/media"
)

// Приоритеты кодеков
const (
	PriorityDisabled uint8 = 0
	PriorityLowest   uint8 = 1
	PriorityNormal   uint8 = 128
	PriorityNext     uint8 = 254
	PriorityHighest  uint8 = 255
)

// Info - краткие сведения о кодеке
type Info struct {
	ID       string `json:"id"`
	Priority uint8  `json:"priority"`
	Desc     string `json:"desc"`
}

// Fmtp - параметр формата (name=value) атрибута a=fmtp
type Fmtp struct {
	Name string `json:"name"`
	Val  string `json:"val"`
}

// ParamInfo - неизменяемые характеристики кодека
type ParamInfo struct {
	ClockRate        int            `json:"clock_rate"`
	ChannelCount     int            `json:"channel_count"`
	AvgBps           uint32         `json:"avg_bps"`
	MaxBps           uint32         `json:"max_bps"`
	MaxRxFrameSize   int            `json:"max_rx_frame_size"`
	FrameLen         int            `json:"frame_len"` // длительность кадра кодека в мс
	PCMBitsPerSample int            `json:"pcm_bits_per_sample"`
	PT               uint8          `json:"pt"`
	FormatID         media.FormatID `json:"format_id"`
}

// ParamSetting - настраиваемые параметры кодека
type ParamSetting struct {
	FramesPerPacket int    `json:"frames_per_packet"`
	VAD             bool   `json:"vad"`
	CNG             bool   `json:"cng"`
	PENH            bool   `json:"penh"`
	PLC             bool   `json:"plc"`
	EncFmtp         []Fmtp `json:"enc_fmtp,omitempty"`
	DecFmtp         []Fmtp `json:"dec_fmtp,omitempty"`
}

// Param - параметры кодека
type Param struct {
	Info    ParamInfo    `json:"info"`
	Setting ParamSetting `json:"setting"`
}

// Ptime возвращает длительность пакета
func (p Param) Ptime() time.Duration {
	n := p.Setting.FramesPerPacket
	if n < 1 {
		n = 1
	}
	return time.Duration(p.Info.FrameLen*n) * time.Millisecond
}

// PCMFormat возвращает линейный формат кадров, которыми кодек обменивается
// с мостом
func (p Param) PCMFormat() media.Format {
	return media.NewFormat(p.Info.ClockRate, p.Info.ChannelCount, p.Ptime())
}

func (p Param) clone() Param {
	p.Setting.EncFmtp = append([]Fmtp(nil), p.Setting.EncFmtp...)
	p.Setting.DecFmtp = append([]Fmtp(nil), p.Setting.DecFmtp...)
	return p
}

func (p Param) validate() error {
	if p.Info.ClockRate <= 0 || p.Info.ChannelCount <= 0 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректный формат кодека: %d Гц, %d каналов",
			p.Info.ClockRate, p.Info.ChannelCount)
	}
	if p.Info.FrameLen <= 0 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректная длительность кадра %d мс", p.Info.FrameLen)
	}
	if p.Setting.FramesPerPacket < 1 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректное число кадров в пакете %d", p.Setting.FramesPerPacket)
	}
	return nil
}

// ParseFmtp разбирает параметры формата "a=1;b=2" (или "0-15" без имени)
func ParseFmtp(s string) []Fmtp {
	var out []Fmtp
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			out = append(out, Fmtp{Val: part})
			continue
		}
		out = append(out, Fmtp{Name: strings.TrimSpace(name), Val: strings.TrimSpace(val)})
	}
	return out
}

// FormatFmtp собирает параметры формата в строку атрибута fmtp
func FormatFmtp(params []Fmtp) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.Name == "" {
			parts = append(parts, p.Val)
			continue
		}
		parts = append(parts, p.Name+"="+p.Val)
	}
	return strings.Join(parts, ";")
}

// splitID разбирает идентификатор "имя/частота/каналы"
func splitID(id string) (name string, rest string) {
	name, rest, _ = strings.Cut(id, "/")
	return name, rest
}
