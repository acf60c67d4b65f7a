package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/taskvox/internal/tasks"
)

// ErrUnknownTool is returned by Call for a name that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a callable tool that also carries its declared schema.
type Tool interface {
	tool.InvokableTool
	Spec() *ToolSpec
}

// Registry holds tools by name in registration order.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewTaskRegistry creates a registry populated with the task tools.
func NewTaskRegistry(store tasks.Store, cfg TaskToolsConfig) *Registry {
	r := NewRegistry()
	for _, t := range NewTaskTools(store, cfg) {
		// names are unique by construction
		_ = r.Register(t)
	}
	return r
}

// Register adds t under its spec name.
func (r *Registry) Register(t Tool) error {
	name := t.Spec().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Tool returns the tool for a given name, or nil if not found.
func (r *Registry) Tool(name string) Tool {
	return r.tools[name]
}

// ToolSpec returns the declared schema of a tool, or nil if not found.
func (r *Registry) ToolSpec(name string) *ToolSpec {
	if t, ok := r.tools[name]; ok {
		return t.Spec()
	}
	return nil
}

// ToolNames returns all registered tool names in registration order.
func (r *Registry) ToolNames() []string {
	return append([]string(nil), r.order...)
}

// Infos returns the schemas of all tools, for binding to a chat model.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info, err := r.tools[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %q info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Call dispatches a tool call by name and returns the text result.
func (r *Registry) Call(ctx context.Context, name, argumentsInJSON string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t.InvokableRun(ctx, argumentsInJSON)
}
