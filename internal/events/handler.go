// internal/events/handler.go
package events

import "context"

// Handler consumes bus events. Handle runs on the bus dispatch goroutine and
// must return quickly; slow work belongs on the handler's own goroutine.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription undoes a Subscribe.
type Subscription interface {
	Unsubscribe()
}
