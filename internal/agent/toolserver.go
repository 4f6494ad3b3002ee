package agent

import (
	"context"
	"fmt"

	"github.com/vulnsentinel/vulnsentinel/internal/llm"
)

// ToolFunc executes one tool call. The returned text goes back to the
// model verbatim, after the run loop applies its output cap.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

type registeredTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          ToolFunc
}

// ToolServer is a per-run tool registry. Every run builds its own server
// so handlers can close over run-scoped state (clients, caches, the row
// under analysis) without sharing anything across goroutines.
// Registration order is preserved; the tool list is part of the prompt.
type ToolServer struct {
	tools map[string]*registeredTool
	order []string
}

// NewToolServer returns an empty registry.
func NewToolServer() *ToolServer {
	return &ToolServer{tools: make(map[string]*registeredTool)}
}

// Register adds a tool. Re-registering a name replaces the handler but
// keeps its position in the tool list.
func (s *ToolServer) Register(name, description string, parameters map[string]any, fn ToolFunc) {
	if _, exists := s.tools[name]; !exists {
		s.order = append(s.order, name)
	}
	s.tools[name] = &registeredTool{name: name, description: description, parameters: parameters, fn: fn}
}

// Tools returns the registered descriptors in function-calling shape,
// sanitized for the strictest provider dialect.
func (s *ToolServer) Tools() []llm.Tool {
	out := make([]llm.Tool, 0, len(s.order))
	for _, name := range s.order {
		t := s.tools[name]
		out = append(out, llm.Tool{
			Name:        t.name,
			Description: t.description,
			Parameters:  SanitizeSchema(t.parameters),
		})
	}
	return out
}

// Call executes one tool by name.
func (s *ToolServer) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := s.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return t.fn(ctx, args)
}
