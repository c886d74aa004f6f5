package errors

import (
	"fmt"
	"runtime/debug"
)

const maxStackBytes = 4096

// RecoverPanic turns a value returned by recover() into a fatal internal
// error. The stack is truncated so it stays loggable.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}

	stack := debug.Stack()
	if len(stack) > maxStackBytes {
		stack = stack[:maxStackBytes]
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(stack)).
		AsFatal()
}
