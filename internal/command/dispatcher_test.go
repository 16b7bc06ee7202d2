package command

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

type testCommand struct {
	Value  string `json:"value"`
	Secret string `json:"-"`
}

func (testCommand) CommandName() string { return "test-command" }

func TestDispatcher_Send(t *testing.T) {
	tests := []struct {
		name          string
		validators    []Validator
		handlerResult Result
		wantHandled   bool
		wantSucceeded bool
		wantCode      ErrorCode
	}{
		{
			name:          "handler runs when validation passes",
			handlerResult: Ok(),
			wantHandled:   true,
			wantSucceeded: true,
		},
		{
			name: "validation failure short-circuits the handler",
			validators: []Validator{
				ValidatorFunc(func(cmd Command) []FieldError {
					return []FieldError{{Field: "value", Code: "required"}}
				}),
			},
			wantHandled: false,
			wantCode:    CodeValidationFailed,
		},
		{
			name: "field errors from all validators are collected",
			validators: []Validator{
				ValidatorFunc(func(cmd Command) []FieldError {
					return []FieldError{{Field: "value", Code: "required"}}
				}),
				ValidatorFunc(func(cmd Command) []FieldError {
					return []FieldError{{Field: "secret", Code: "too_short"}}
				}),
			},
			wantHandled: false,
			wantCode:    CodeValidationFailed,
		},
		{
			name:          "handler failure is returned as-is",
			handlerResult: Failed(CodeNotFound, "missing"),
			wantHandled:   true,
			wantCode:      CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(zerolog.Nop(), nil)

			handled := false
			d.Register("test-command", HandlerFunc(func(ctx context.Context, cmd Command) Result {
				handled = true
				return tt.handlerResult
			}))
			for _, v := range tt.validators {
				d.RegisterValidator("test-command", v)
			}

			result := d.Send(context.Background(), testCommand{Value: "v"})

			if handled != tt.wantHandled {
				t.Errorf("expected handled=%v, got %v", tt.wantHandled, handled)
			}
			if result.Succeeded() != tt.wantSucceeded {
				t.Errorf("expected succeeded=%v, got %v", tt.wantSucceeded, result.Succeeded())
			}
			if !tt.wantSucceeded && result.Error().Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, result.Error().Code)
			}
			if len(tt.validators) > 1 && len(result.FieldErrors()) != 2 {
				t.Errorf("expected 2 field errors, got %d", len(result.FieldErrors()))
			}
		})
	}
}

func TestDispatcher_SendUnregisteredCommand(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), nil)

	result := d.Send(context.Background(), testCommand{})

	if result.Succeeded() {
		t.Fatal("expected failure for unregistered command")
	}
	if result.Error().Code != CodeNotFound {
		t.Errorf("expected not_found, got %s", result.Error().Code)
	}
}

func TestDispatcher_RegisterDuplicatePanics(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), nil)
	d.Register("test-command", HandlerFunc(func(ctx context.Context, cmd Command) Result { return Ok() }))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	d.Register("test-command", HandlerFunc(func(ctx context.Context, cmd Command) Result { return Ok() }))
}

func TestDispatcher_AuditEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	d := NewDispatcher(logger, nil)
	d.Register("test-command", HandlerFunc(func(ctx context.Context, cmd Command) Result {
		return Failed(CodeAuthenticationFailed, "the supplied credentials are not valid")
	}))

	ctx := WithActor(context.Background(), "operator-1")
	d.Send(ctx, testCommand{Value: "v", Secret: "hunter2"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("audit entry is not valid JSON: %v", err)
	}

	if entry["command"] != "test-command" {
		t.Errorf("expected command name in audit entry, got %v", entry["command"])
	}
	if entry["actor"] != "operator-1" {
		t.Errorf("expected actor in audit entry, got %v", entry["actor"])
	}
	if entry["error_code"] != string(CodeAuthenticationFailed) {
		t.Errorf("expected error code in audit entry, got %v", entry["error_code"])
	}

	data, ok := entry["command_data"].(map[string]any)
	if !ok {
		t.Fatalf("expected command snapshot object, got %T", entry["command_data"])
	}
	if data["value"] != "v" {
		t.Errorf("expected command field in snapshot, got %v", data["value"])
	}
	if _, present := data["secret"]; present {
		t.Error("secret field must not appear in the audit snapshot")
	}
}

func TestDispatcher_AuditAnonymousActor(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(zerolog.New(&buf), nil)
	d.Register("test-command", HandlerFunc(func(ctx context.Context, cmd Command) Result { return Ok() }))

	d.Send(context.Background(), testCommand{})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("audit entry is not valid JSON: %v", err)
	}
	if entry["actor"] != AnonymousActor {
		t.Errorf("expected anonymous actor, got %v", entry["actor"])
	}
}
