package code

import (
	"fmt"
)

// Code is a stable error identity. Codes compare by number, so a Code
// can be the target of errors.Is for any error that carries the same number.
// Code 错误码，按数值比较
type Code struct {
	// 状态码
	code int
	// 错误消息
	msg string
}

var codes = map[int]string{}

// NewError registers a new error code. Registering the same number twice panics.
// NewError 注册错误码，重复注册会 panic
func NewError(code int, msg string) *Code {
	if _, ok := codes[code]; ok {
		panic(fmt.Sprintf("error code %d already exists, use another one", code))
	}
	codes[code] = msg

	return &Code{code: code, msg: msg}
}

func (e *Code) Error() string {
	return e.msg
}

func (e *Code) Code() int {
	return e.code
}

func (e *Code) Msg() string {
	return e.msg
}

func (e *Code) Msgf(args ...any) string {
	return fmt.Sprintf(e.msg, args...)
}

// Is reports whether target is a Code with the same number.
func (e *Code) Is(target error) bool {
	t, ok := target.(*Code)
	return ok && t.code == e.code
}
