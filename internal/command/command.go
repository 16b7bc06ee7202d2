package command

import "context"

// Command is a request to mutate state. Concrete commands are plain structs
// whose fields are serialized into the audit log; secrets carry `json:"-"`.
type Command interface {
	// CommandName returns a stable name used for handler and validator
	// registration and for the audit log.
	CommandName() string
}

// Handler executes the business logic for one command type.
type Handler interface {
	Handle(ctx context.Context, cmd Command) Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd Command) Result

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) Result {
	return f(ctx, cmd)
}

// Validator checks a command before its handler runs. A non-empty slice of
// field errors stops the pipeline.
type Validator interface {
	Validate(cmd Command) []FieldError
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(cmd Command) []FieldError

// Validate implements Validator.
func (f ValidatorFunc) Validate(cmd Command) []FieldError {
	return f(cmd)
}

type actorKey struct{}

// AnonymousActor is recorded in the audit log when no actor identity is on
// the context.
const AnonymousActor = "anonymous"

// WithActor returns a context carrying the acting user's identifier.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the acting user's identifier, or AnonymousActor.
func ActorFrom(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return AnonymousActor
}
