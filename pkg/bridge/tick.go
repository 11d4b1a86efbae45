package bridge

import (
	"time"

	"github.com/arzzra/confbridge/pkg/media"
)

// Tick выполняет один кадр обработки:
//
//  1. Опрашивает все источники, у которых есть хотя бы один приемник,
//     применяет к их сигналу TxLevelAdj и измеряет уровень передачи.
//  2. Для каждого приемника, у которого есть хотя бы один источник,
//     смешивает сигналы источников, применяет RxLevelAdj, измеряет
//     уровень приема и передает кадр порту.
//
// Все источники опрашиваются до записи в первый приемник, поэтому
// порт, передающий сам себе, получает собственный сигнал с задержкой
// в один кадр. Tick потокобезопасен; одновременные вызовы выполняются
// по очереди.
func (b *Bridge) Tick() {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	start := time.Now()
	g := b.snapshot.Load()

	for i := range g.ports {
		gp := &g.ports[i]
		e := gp.entry
		if e.source == nil || len(gp.listeners) == 0 {
			e.txLevel.Store(0)
			continue
		}
		b.pull(e)
	}

	for i := range g.ports {
		gp := &g.ports[i]
		e := gp.entry
		if e.sink == nil || len(gp.transmitters) == 0 {
			e.rxLevel.Store(0)
			continue
		}
		b.push(e, gp.transmitters)
	}

	b.frames.Add(1)
	if b.metrics != nil {
		b.metrics.ticks.Inc()
		b.metrics.tickDuration.Observe(time.Since(start).Seconds())
	}
}

// pull получает кадр источника в e.out в формате моста
func (b *Bridge) pull(e *portEntry) {
	buf := e.out
	if e.inConv != nil {
		buf = e.getBuf
	}
	buf.Silence()

	if err := e.source.GetFrame(buf); err != nil {
		buf.Silence()
		if b.metrics != nil {
			b.metrics.sourceErrors.WithLabelValues(e.kind.String()).Inc()
		}
		b.logger.V(1).Info("ошибка получения кадра, кадр заменен тишиной",
			"port_id", e.id, "name", e.name, "error", err.Error())
	}

	if e.inConv != nil {
		e.inConv.Convert(e.out, buf)
	}

	media.ApplyGain(e.out, e.txGain())
	e.txLevel.Store(uint32(media.SignalLevel(e.out)))
}

// push смешивает сигналы источников и передает результат приемнику
func (b *Bridge) push(e *portEntry, transmitters []*portEntry) {
	e.acc.Reset()
	for _, src := range transmitters {
		e.acc.Add(src.out, 1)
	}
	e.acc.Flush(e.mix, e.rxGain())
	e.rxLevel.Store(uint32(media.SignalLevel(e.mix)))

	frame := e.mix
	if e.outConv != nil {
		e.outConv.Convert(e.putBuf, e.mix)
		frame = e.putBuf
	}

	if err := e.sink.PutFrame(frame); err != nil {
		if b.metrics != nil {
			b.metrics.sinkErrors.WithLabelValues(e.kind.String()).Inc()
		}
		b.logger.V(1).Info("ошибка передачи кадра приемнику",
			"port_id", e.id, "name", e.name, "error", err.Error())
	}
}
