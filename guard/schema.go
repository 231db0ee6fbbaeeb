package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaGuard validates the decoded payload against a JSON Schema.
// Compiled schemas are cached by schema content.
type SchemaGuard struct {
	Base

	// Schema is the JSON Schema document the payload must satisfy.
	Schema any

	// Capture controls whether rejected requests are persisted.
	Capture bool

	mu       sync.Mutex
	compiled *jsonschema.Schema
}

// Name implements Guard.
func (g *SchemaGuard) Name() string { return "schema" }

// CaptureFailures implements Guard.
func (g *SchemaGuard) CaptureFailures() bool { return g.Capture }

// ValidatePayload implements Guard.
func (g *SchemaGuard) ValidatePayload(_ context.Context, gc *Context) error {
	if g.Schema == nil {
		return nil
	}

	compiled, err := g.compile()
	if err != nil {
		return fmt.Errorf("guard: compile schema: %w", err)
	}

	if err := compiled.Validate(gc.Payload); err != nil {
		return &PayloadViolation{
			Guard:      g.Name(),
			Violations: []string{err.Error()},
		}
	}
	return nil
}

func (g *SchemaGuard) compile() (*jsonschema.Schema, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.compiled != nil {
		return g.compiled, nil
	}

	raw, err := json.Marshal(g.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := "hookline://schema/" + sanitizeKey(string(raw))

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	g.compiled = compiled
	return compiled, nil
}

// sanitizeKey creates a safe URL path segment from a schema key.
func sanitizeKey(key string) string {
	r := strings.NewReplacer(
		`"`, "",
		`{`, "",
		`}`, "",
		` `, "_",
		`:`, "",
	)
	s := r.Replace(key)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
