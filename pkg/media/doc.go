// Package media содержит общие типы медиа слоя конференц-моста.
//
// Пакет не зависит от моста и используется всеми его участниками:
// файловым проигрывателем, рекордером, генератором тонов, звуковым
// устройством и RTP портом.
//
// # Основные компоненты
//
//   - Format - описание аудио формата (частота, каналы, длительность кадра)
//   - Frame - кадр линейных 16-битных отсчетов
//   - Accumulator - смешивание нескольких источников с ограничением диапазона
//   - Converter - приведение частоты дискретизации и числа каналов
//   - G.711 - кодирование μ-law и A-law
//   - SignalLevel - измерение уровня сигнала в процентах
//   - MediaError - типизированные ошибки с кодами InvalidPort, InvalidState,
//     ResourceExhausted, UnsupportedCapability, NotFound
//
// # Обработка ошибок
//
//	if err != nil {
//	    if errors.Is(err, media.ErrInvalidPort) {
//	        // порт уже удален из моста
//	    }
//	    var mediaErr *media.MediaError
//	    if errors.As(err, &mediaErr) {
//	        fmt.Printf("Код ошибки: %s, порт: %d\n", mediaErr.Code, mediaErr.PortID)
//	    }
//	}
//
// # Ограничение амплитуды
//
// При смешивании и усилении (уровень > 1.0) значения, выходящие за
// диапазон int16, обрезаются до границ диапазона (hard clamp).
package media
