// Package logging создает структурированные логгеры компонентов медиа слоя.
//
// Логгеры реализуют интерфейс logr.Logger поверх zerolog. Уровень debug
// включается для отдельных компонентов через переменную окружения DEBUG,
// содержащую список glob шаблонов через запятую:
//
//	DEBUG="bridge,device*"      // debug для моста и всех устройств
//	DEBUG="*,-player"           // debug для всех, кроме проигрывателя
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
)

var (
	mu sync.RWMutex

	// baseLogger - zerolog с консольным выводом
	baseLogger = newBase(os.Stderr)

	defaultLevel = zerolog.InfoLevel
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.999Z07:00"
	zerologr.VerbosityFieldName = ""
}

func newBase(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
		color, _ := strconv.ParseBool(os.Getenv("DEBUG_COLORS"))
		cw.Out = w
		cw.NoColor = !color
		cw.TimeFormat = "2006-01-02 15:04:05.999"
	})).With().Timestamp().Logger()
}

// SetOutput перенаправляет вывод всех создаваемых далее логгеров
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = newBase(w)
}

// SetLevel устанавливает уровень по умолчанию: "debug", "info", "warn", "error"
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLevel = lvl
	return nil
}

// NewLogger создает логгер для компонента scope
func NewLogger(scope string) logr.Logger {
	mu.RLock()
	level := defaultLevel
	base := baseLogger
	mu.RUnlock()

	if debugEnabled(scope, os.Getenv("DEBUG")) {
		level = zerolog.DebugLevel
	}

	logger := base.Level(level)
	return zerologr.New(&logger).WithName(scope)
}

// debugEnabled проверяет, включен ли debug для scope списком шаблонов.
// Шаблон с префиксом "-" выключает debug; побеждает последний совпавший.
func debugEnabled(scope, patterns string) bool {
	enabled := false
	for _, part := range strings.Split(patterns, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		shouldMatch := true
		if part[0] == '-' {
			shouldMatch = false
			part = part[1:]
		}
		if g, err := glob.Compile(part); err == nil && g.Match(scope) {
			enabled = shouldMatch
		}
	}
	return enabled
}
