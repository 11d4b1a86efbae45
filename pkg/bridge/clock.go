package bridge

import (
	"context"
	"time"
)

// Clock - источник тактов цикла обработки
type Clock interface {
	C() <-chan time.Time
	Stop()
}

type tickerClock struct {
	ticker *time.Ticker
}

// NewTickerClock создает программные часы с периодом interval
func NewTickerClock(interval time.Duration) Clock {
	return &tickerClock{ticker: time.NewTicker(interval)}
}

func (c *tickerClock) C() <-chan time.Time { return c.ticker.C }
func (c *tickerClock) Stop()               { c.ticker.Stop() }

// Run выполняет Tick на каждый такт clock до отмены ctx.
// Часы останавливаются при выходе.
func (b *Bridge) Run(ctx context.Context, clock Clock) error {
	defer clock.Stop()

	b.logger.V(1).Info("цикл обработки запущен")
	for {
		select {
		case <-ctx.Done():
			b.logger.V(1).Info("цикл обработки остановлен", "frames", b.frames.Load())
			return nil
		case <-clock.C():
			b.Tick()
		}
	}
}
