package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/device"
	"github.com/arzzra/confbridge/pkg/media"
	"github.com/arzzra/confbridge/pkg/player"
	"github.com/arzzra/confbridge/pkg/recorder"
	"github.com/arzzra/confbridge/pkg/tone"
)

// PortResponse - сведения о порте с текущими уровнями сигнала
type PortResponse struct {
	bridge.PortInfo
	TxLevel uint `json:"tx_level"`
	RxLevel uint `json:"rx_level"`

	Player *PlayerState `json:"player,omitempty"`
}

// PlayerState - состояние проигрывателя
type PlayerState struct {
	Playing  bool   `json:"playing"`
	Playlist bool   `json:"playlist"`
	Pos      uint32 `json:"pos,omitempty"`
}

// ConnectionRequest - тело запросов /connections
type ConnectionRequest struct {
	Source *int `json:"source" binding:"required"`
	Sink   *int `json:"sink" binding:"required"`
}

// LevelRequest - тело запроса изменения уровней; отсутствующее поле не меняется
type LevelRequest struct {
	Tx *float32 `json:"tx"`
	Rx *float32 `json:"rx"`
}

// PriorityRequest - тело запроса приоритета кодеков
type PriorityRequest struct {
	Pattern  string `json:"pattern" binding:"required"`
	Priority *uint8 `json:"priority" binding:"required"`
}

// PlayerRequest - тело запроса создания проигрывателя
type PlayerRequest struct {
	Files  []string `json:"files" binding:"required"`
	NoLoop bool     `json:"no_loop"`
	Label  string   `json:"label"`
}

// RecorderRequest - тело запроса создания рекордера
type RecorderRequest struct {
	File     string `json:"file" binding:"required"`
	Encoding string `json:"encoding"` // pcm, alaw, ulaw
}

// ToneRequest - тело запроса генерации DTMF
type ToneRequest struct {
	Digits  string `json:"digits" binding:"required"`
	OnMsec  int    `json:"on_msec"`
	OffMsec int    `json:"off_msec"`
	Sink    *int   `json:"sink"`
}

// CreatedResponse - ответ на создание порта
type CreatedResponse struct {
	PortID int `json:"port_id"`
}

// DevicesResponse - состояние звукового устройства и список устройств
type DevicesResponse struct {
	State       string           `json:"state"`
	CaptureDev  int              `json:"capture_dev"`
	PlaybackDev int              `json:"playback_dev"`
	Devices     []device.DevInfo `json:"devices"`
}

func portID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "некорректный идентификатор порта"})
		return 0, false
	}
	return id, true
}

func (s *Server) portResponse(id int) (PortResponse, error) {
	b := s.endpoint.Bridge()
	info, err := b.PortInfo(id)
	if err != nil {
		return PortResponse{}, err
	}
	resp := PortResponse{PortInfo: info}
	resp.TxLevel, _ = b.TxLevel(id)
	resp.RxLevel, _ = b.RxLevel(id)

	for _, am := range b.Medias() {
		if am.PortID() != id {
			continue
		}
		if p := player.FromAudioMedia(am); p != nil {
			resp.Player = &PlayerState{Playing: p.IsPlaying(), Playlist: p.IsPlaylist()}
			if pos, err := p.Pos(); err == nil {
				resp.Player.Pos = pos
			}
		}
	}
	return resp, nil
}

func (s *Server) listPorts(c *gin.Context) {
	ids := s.endpoint.Bridge().Ports()
	out := make([]PortResponse, 0, len(ids))
	for _, id := range ids {
		resp, err := s.portResponse(id)
		if err != nil {
			// порт снят с регистрации между вызовами
			continue
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPort(c *gin.Context) {
	id, ok := portID(c)
	if !ok {
		return
	}
	resp, err := s.portResponse(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) adjustLevel(c *gin.Context) {
	id, ok := portID(c)
	if !ok {
		return
	}
	var req LevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	b := s.endpoint.Bridge()
	if req.Tx != nil {
		if err := b.AdjustTxLevel(id, *req.Tx); err != nil {
			s.fail(c, err)
			return
		}
	}
	if req.Rx != nil {
		if err := b.AdjustRxLevel(id, *req.Rx); err != nil {
			s.fail(c, err)
			return
		}
	}
	resp, err := s.portResponse(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) connect(c *gin.Context) {
	var req ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.endpoint.Bridge().Connect(*req.Source, *req.Sink); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) disconnect(c *gin.Context) {
	var req ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.endpoint.Bridge().Disconnect(*req.Source, *req.Sink); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listDevices(c *gin.Context) {
	devices := s.endpoint.Devices()
	c.JSON(http.StatusOK, DevicesResponse{
		State:       devices.State(),
		CaptureDev:  devices.CaptureDev(),
		PlaybackDev: devices.PlaybackDev(),
		Devices:     devices.EnumDevs(),
	})
}

func (s *Server) listCodecs(c *gin.Context) {
	c.JSON(http.StatusOK, s.endpoint.Codecs().EnumCodecs())
}

func (s *Server) setCodecPriority(c *gin.Context) {
	var req PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if _, err := s.endpoint.Codecs().SetPriority(req.Pattern, *req.Priority); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.endpoint.Codecs().EnumCodecs())
}

func (s *Server) own(id int, closeFn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned[id] = closeFn
}

func (s *Server) createPlayer(c *gin.Context) {
	var req PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	var opts player.Option
	if req.NoLoop {
		opts |= player.NoLoop
	}

	var (
		p   *player.Player
		err error
	)
	b := s.endpoint.Bridge()
	if len(req.Files) == 1 && req.Label == "" {
		p, err = player.CreatePlayer(b, req.Files[0], opts)
	} else {
		p, err = player.CreatePlaylist(b, req.Files, req.Label, opts)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.own(p.PortID(), func() error { p.Close(); return nil })
	c.JSON(http.StatusCreated, CreatedResponse{PortID: p.PortID()})
}

func (s *Server) createRecorder(c *gin.Context) {
	var req RecorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	var opts recorder.Option
	switch req.Encoding {
	case "", "pcm":
		opts = recorder.WritePCM
	case "alaw":
		opts = recorder.WriteALAW
	case "ulaw":
		opts = recorder.WriteULAW
	default:
		s.fail(c, media.NewError(media.ErrorCodeUnsupportedCapability, "неизвестная кодировка %q", req.Encoding))
		return
	}
	r, err := recorder.CreateRecorder(s.endpoint.Bridge(), req.File, 0, 0, opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.own(r.PortID(), r.Close)
	c.JSON(http.StatusCreated, CreatedResponse{PortID: r.PortID()})
}

func (s *Server) playTones(c *gin.Context) {
	var req ToneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.OnMsec <= 0 {
		req.OnMsec = 100
	}
	if req.OffMsec < 0 {
		req.OffMsec = 0
	}

	b := s.endpoint.Bridge()
	format := b.Format()
	gen, err := tone.New(b, format.ClockRate, format.ChannelCount)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := gen.PlayString(req.Digits, req.OnMsec, req.OffMsec); err != nil {
		gen.Close()
		s.fail(c, err)
		return
	}
	if req.Sink != nil {
		if err := b.Connect(gen.PortID(), *req.Sink); err != nil {
			gen.Close()
			s.fail(c, err)
			return
		}
	}
	s.own(gen.PortID(), func() error { gen.Close(); return nil })
	c.JSON(http.StatusCreated, CreatedResponse{PortID: gen.PortID()})
}

func (s *Server) closeMedia(c *gin.Context) {
	id, ok := portID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	closeFn, found := s.owned[id]
	delete(s.owned, id)
	s.mu.Unlock()

	if !found {
		s.fail(c, media.NewError(media.ErrorCodeNotFound, "порт %d не создан через API", id))
		return
	}
	if err := closeFn(); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
