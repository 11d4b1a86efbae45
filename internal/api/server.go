// Package api реализует административный HTTP API конференц-моста
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/confbridge/pkg/endpoint"
	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/media"
)

// Server - HTTP сервер API
type Server struct {
	endpoint *endpoint.Endpoint
	logger   logr.Logger
	router   *gin.Engine
	http     *http.Server

	mu    sync.Mutex
	owned map[int]func() error // порты, созданные через API
}

// NewServer создает сервер API для endpoint
func NewServer(addr string, ep *endpoint.Endpoint, logger logr.Logger) *Server {
	if logger.GetSink() == nil {
		logger = logging.NewLogger("api")
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		endpoint: ep,
		logger:   logger,
		router:   router,
		owned:    make(map[int]func() error),
	}
	router.Use(s.accessLog)
	s.setupRoutes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/ports", s.listPorts)
		v1.GET("/ports/:id", s.getPort)
		v1.PUT("/ports/:id/level", s.adjustLevel)
		v1.POST("/connections", s.connect)
		v1.DELETE("/connections", s.disconnect)
		v1.GET("/devices", s.listDevices)
		v1.GET("/codecs", s.listCodecs)
		v1.PUT("/codecs/priority", s.setCodecPriority)
		v1.POST("/players", s.createPlayer)
		v1.POST("/recorders", s.createRecorder)
		v1.POST("/tones", s.playTones)
		v1.DELETE("/media/:id", s.closeMedia)
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.endpoint.Registry(), promhttp.HandlerOpts{})))
}

// Handler возвращает HTTP обработчик (для тестов)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run обслуживает запросы до отмены ctx
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API сервер запущен", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.CloseMedia()
	return err
}

// CloseMedia закрывает все порты, созданные через API
func (s *Server) CloseMedia() {
	s.mu.Lock()
	owned := s.owned
	s.owned = make(map[int]func() error)
	s.mu.Unlock()

	for id, closeFn := range owned {
		if err := closeFn(); err != nil {
			s.logger.Error(err, "ошибка закрытия порта", "port_id", id)
		}
	}
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.V(1).Info("запрос", "method", c.Request.Method, "path", c.FullPath(),
		"status", c.Writer.Status(), "duration", time.Since(start).String())
}

// errorResponse - тело ответа с ошибкой
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor отображает код MediaError в HTTP статус
func statusFor(err error) int {
	code, ok := media.ErrorCodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case media.ErrorCodeInvalidPort, media.ErrorCodeNotFound:
		return http.StatusNotFound
	case media.ErrorCodeInvalidState:
		return http.StatusConflict
	case media.ErrorCodeResourceExhausted:
		return http.StatusServiceUnavailable
	case media.ErrorCodeUnsupportedCapability:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	resp := errorResponse{Error: err.Error()}
	if code, ok := media.ErrorCodeOf(err); ok {
		resp.Code = code.String()
	}
	c.AbortWithStatusJSON(statusFor(err), resp)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}
