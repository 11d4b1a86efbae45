package device

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/confbridge/pkg/media"
)

// NullDriverName - имя драйвера нулевого устройства
const NullDriverName = "null"

// NullDriver - драйвер нулевого устройства: программные часы вместо
// звуковой карты, тишина на входе, выход отбрасывается.
type NullDriver struct{}

// Name реализует Driver
func (NullDriver) Name() string { return NullDriverName }

// Devices реализует Driver
func (NullDriver) Devices() ([]DevInfo, error) {
	return []DevInfo{{
		Name:                 "Null Audio",
		Driver:               NullDriverName,
		InputCount:           1,
		OutputCount:          1,
		DefaultSamplesPerSec: 16000,
	}}, nil
}

// Open реализует Driver
func (NullDriver) Open(param StreamParam, cb Callback) (Stream, error) {
	if err := param.Format.Validate(); err != nil {
		return nil, err
	}
	return &nullStream{param: param, cb: cb}, nil
}

// nullStream вызывает callback с периодом кадра из собственной горутины
type nullStream struct {
	param StreamParam
	cb    Callback

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *nullStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.clockLoop(ctx)
	return nil
}

func (s *nullStream) clockLoop(ctx context.Context) {
	defer s.wg.Done()

	var capture, playback media.Frame
	if s.param.CaptureDev >= 0 {
		capture = media.NewFrame(s.param.Format.SamplesPerFrame())
	}
	if s.param.PlaybackDev >= 0 {
		playback = media.NewFrame(s.param.Format.SamplesPerFrame())
	}

	ticker := time.NewTicker(s.param.Format.FrameTime())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.cb(capture, playback)
		}
	}
}

func (s *nullStream) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	return nil
}

func (s *nullStream) Close() error {
	return s.Stop()
}

func (s *nullStream) GetCap(c Cap) (any, error) {
	return nil, media.NewError(media.ErrorCodeUnsupportedCapability, "нулевое устройство не поддерживает %s", capString(c))
}

func (s *nullStream) SetCap(c Cap, _ any) error {
	return media.NewError(media.ErrorCodeUnsupportedCapability, "нулевое устройство не поддерживает %s", capString(c))
}

func capString(c Cap) string {
	name, _ := CapName(c)
	return name
}
