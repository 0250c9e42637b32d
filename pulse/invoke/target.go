// Package invoke dispatches scheduled work to named handlers.
//
// The scheduler never interprets a Target. It hands it to an Invoker, which
// routes on (Type, Method) to a registered handler function.
package invoke

import (
	"context"
	"fmt"
)

// Target describes what a job runs. It is opaque to the scheduler.
type Target struct {
	Type       string            `json:"target_type"`
	Key        string            `json:"target_key"`
	Method     string            `json:"method_name"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// String returns "type/key.method" for logs.
func (t Target) String() string {
	return fmt.Sprintf("%s/%s.%s", t.Type, t.Key, t.Method)
}

// Invoker runs a target. A non-nil error marks the execution as failed.
type Invoker interface {
	Invoke(ctx context.Context, target Target) error
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, target Target) error

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, target Target) error {
	return f(ctx, target)
}
