package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher routes commands through the three pipeline stages: validation,
// the registered handler, and the audit stage. Registration happens at
// startup; Send may then be called concurrently.
type Dispatcher struct {
	handlers   map[string]Handler
	validators map[string][]Validator
	logger     zerolog.Logger
	metrics    *Metrics
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(logger zerolog.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		handlers:   make(map[string]Handler),
		validators: make(map[string][]Validator),
		logger:     logger.With().Str("component", "command_dispatcher").Logger(),
		metrics:    metrics,
	}
}

// Register binds the single handler for a command name. Registering a second
// handler for the same name is a wiring bug and panics at startup.
func (d *Dispatcher) Register(name string, handler Handler) {
	if _, exists := d.handlers[name]; exists {
		panic(fmt.Sprintf("command %q already has a handler", name))
	}
	d.handlers[name] = handler
}

// RegisterValidator appends a validator for a command name. A command may
// have zero or more validators.
func (d *Dispatcher) RegisterValidator(name string, validator Validator) {
	d.validators[name] = append(d.validators[name], validator)
}

// Send runs a command through the pipeline and returns its Result. Every
// invocation produces exactly one audit entry; validation failures stop
// processing before the handler runs.
func (d *Dispatcher) Send(ctx context.Context, cmd Command) Result {
	name := cmd.CommandName()
	started := time.Now()

	result := d.dispatch(ctx, name, cmd)

	d.audit(ctx, name, cmd, result)
	if d.metrics != nil {
		d.metrics.observe(name, result, time.Since(started))
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, cmd Command) Result {
	var fields []FieldError
	for _, v := range d.validators[name] {
		fields = append(fields, v.Validate(cmd)...)
	}
	if len(fields) > 0 {
		return Invalid(fields...)
	}

	handler, ok := d.handlers[name]
	if !ok {
		return Failed(CodeNotFound, fmt.Sprintf("no handler registered for command %q", name))
	}
	return handler.Handle(ctx, cmd)
}

// audit writes the single structured entry for this invocation: command
// name, serialized command snapshot, actor, and outcome. Success logs at
// Info, failure at Error. The switch is exhaustive over the closed Outcome
// set; anything else is rejected loudly rather than silently unaudited.
func (d *Dispatcher) audit(ctx context.Context, name string, cmd Command, result Result) {
	snapshot, err := json.Marshal(cmd)
	if err != nil {
		snapshot = []byte(fmt.Sprintf("%q", fmt.Sprintf("%+v", cmd)))
	}

	entry := d.logger.With().
		Str("command", name).
		RawJSON("command_data", snapshot).
		Str("actor", ActorFrom(ctx)).
		Logger()

	switch result.Outcome() {
	case OutcomeOK:
		entry.Info().Msg("command processed")
	case OutcomeFailed:
		evt := entry.Error().
			Str("error_code", string(result.Error().Code)).
			Str("error_message", result.Error().Message)
		if fields := result.FieldErrors(); len(fields) > 0 {
			evt = evt.Interface("field_errors", fields)
		}
		evt.Msg("command failed")
	default:
		panic(fmt.Sprintf("unrecognized result outcome %d for command %q", result.Outcome(), name))
	}
}
