package engine

import "fmt"

// PanicError is returned in place of a task that panicked inside Run.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Message lets failure.DetailedMessage render the panic value itself when it
// is an error.
func (p *PanicError) Message() string {
	if _, ok := p.Value.(error); ok {
		return ""
	}
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap returns the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}
