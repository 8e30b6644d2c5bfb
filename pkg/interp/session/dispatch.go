package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ActionHandler performs one medical side effect. Handlers receive the raw
// argument JSON from the backend and are responsible for their own parsing.
type ActionHandler func(ctx context.Context, action ActionType, argumentsJSON string) error

// actionResult re-enters the coordinator loop when a detached handler
// completes.
type actionResult struct {
	CallID string
	UnitID string
	Action ActionType
	Err    error
}

// Dispatcher invokes medical-action handlers as detached work that never
// blocks the live turn. Results are observed asynchronously by the
// coordinator loop; a failed action leaves the session usable.
type Dispatcher struct {
	logger   *slog.Logger
	handlers map[ActionType]ActionHandler
	timeout  time.Duration
	results  chan<- actionResult
}

func NewDispatcher(logger *slog.Logger, handlers map[ActionType]ActionHandler, timeout time.Duration, results chan<- actionResult) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		logger:   logger,
		handlers: handlers,
		timeout:  timeout,
		results:  results,
	}
}

// Dispatch schedules the handler for the given action. It returns immediately;
// the outcome re-enters the coordinator loop as an actionResult. After ctx is
// done, completions are logged and discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, callID, unitID string, action ActionType, argumentsJSON string) {
	handler, ok := d.handlers[action]
	if !ok {
		d.deliver(ctx, actionResult{
			CallID: callID,
			UnitID: unitID,
			Action: action,
			Err:    fmt.Errorf("no handler registered for action %q", action),
		})
		return
	}

	go func() {
		handlerCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		err := handler(handlerCtx, action, argumentsJSON)
		d.deliver(ctx, actionResult{CallID: callID, UnitID: unitID, Action: action, Err: err})
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, res actionResult) {
	select {
	case d.results <- res:
	case <-ctx.Done():
		d.logger.Info("discarding action result after shutdown",
			"action", string(res.Action), "call_id", res.CallID, "err", res.Err)
	}
}
