package media

import (
	"errors"
	"fmt"
)

// MediaErrorCode определяет типизированные коды ошибок медиа слоя.
// Коды общие для моста, устройств, кодеков и файловых портов.
type MediaErrorCode int

const (
	// ErrorCodeInvalidPort - порт не зарегистрирован или ID вне диапазона
	ErrorCodeInvalidPort MediaErrorCode = iota + 2000
	// ErrorCodeInvalidState - операция недопустима для типа порта или фазы жизненного цикла
	ErrorCodeInvalidState
	// ErrorCodeResourceExhausted - таблица портов заполнена, устройство недоступно
	ErrorCodeResourceExhausted
	// ErrorCodeUnsupportedCapability - устройство или кодек не поддерживает возможность
	ErrorCodeUnsupportedCapability
	// ErrorCodeNotFound - поиск по имени/драйверу/идентификатору не дал результата
	ErrorCodeNotFound
)

// String возвращает строковое представление кода ошибки
func (code MediaErrorCode) String() string {
	switch code {
	case ErrorCodeInvalidPort:
		return "InvalidPort"
	case ErrorCodeInvalidState:
		return "InvalidState"
	case ErrorCodeResourceExhausted:
		return "ResourceExhausted"
	case ErrorCodeUnsupportedCapability:
		return "UnsupportedCapability"
	case ErrorCodeNotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Эталонные ошибки для сравнения через errors.Is.
// Сравнение выполняется по коду, сообщение не учитывается.
var (
	ErrInvalidPort           = &MediaError{Code: ErrorCodeInvalidPort, Message: "invalid port"}
	ErrInvalidState          = &MediaError{Code: ErrorCodeInvalidState, Message: "invalid state"}
	ErrResourceExhausted     = &MediaError{Code: ErrorCodeResourceExhausted, Message: "resource exhausted"}
	ErrUnsupportedCapability = &MediaError{Code: ErrorCodeUnsupportedCapability, Message: "unsupported capability"}
	ErrNotFound              = &MediaError{Code: ErrorCodeNotFound, Message: "not found"}
)

// MediaError базовая структура ошибок медиа слоя.
// Содержит:
//   - Типизированный код ошибки
//   - ID порта конференц-моста (-1 если ошибка не относится к порту)
//   - Контекстную информацию для логов
//   - Обернутую исходную ошибку
type MediaError struct {
	Code    MediaErrorCode
	Message string
	PortID  int
	Context map[string]interface{}
	Wrapped error
}

// NewError создает ошибку без привязки к порту
func NewError(code MediaErrorCode, format string, args ...interface{}) *MediaError {
	return &MediaError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		PortID:  -1,
	}
}

// NewPortError создает ошибку, относящуюся к конкретному порту моста
func NewPortError(code MediaErrorCode, portID int, format string, args ...interface{}) *MediaError {
	return &MediaError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		PortID:  portID,
	}
}

// Error реализует интерфейс error
func (e *MediaError) Error() string {
	if e.PortID >= 0 {
		return fmt.Sprintf("[%s] порт %d: %s", e.Code, e.PortID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку, поддерживая errors.Unwrap.
func (e *MediaError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, позволяя сравнивать ошибки по коду.
func (e *MediaError) Is(target error) bool {
	if t, ok := target.(*MediaError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext добавляет пару ключ-значение в контекст ошибки
func (e *MediaError) WithContext(key string, value interface{}) *MediaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetContext возвращает значение из контекста ошибки по ключу.
func (e *MediaError) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// WrapMediaError оборачивает существующую ошибку в MediaError
func WrapMediaError(code MediaErrorCode, message string, err error) *MediaError {
	return &MediaError{
		Code:    code,
		Message: message,
		PortID:  -1,
		Wrapped: err,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code MediaErrorCode) bool {
	var mediaErr *MediaError
	if errors.As(err, &mediaErr) {
		return mediaErr.Code == code
	}
	return false
}

// ErrorCodeOf возвращает код первой MediaError в цепочке и признак ее наличия
func ErrorCodeOf(err error) (MediaErrorCode, bool) {
	var mediaErr *MediaError
	if errors.As(err, &mediaErr) {
		return mediaErr.Code, true
	}
	return 0, false
}
