package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultPersona is the base system instruction of the task manager.
const DefaultPersona = `You are a voice-activated task manager. Help users:
- "add task [description]" → create a new task
- "list tasks" → read out their tasks
- "start [task]" → mark a task in progress
- "complete [task]" → mark it done
- "delete [task]" → remove it
- "task summary" → give an overview

Your replies are spoken aloud. Be conversational and concise (1-2 sentences max).
Never read out ids, markdown, or lists with bullets.
Refer to tasks by the exact title the tools report.`

// GreetingDirective is injected as a user turn when a conversation starts
// without any user input, so the model opens with a greeting.
const GreetingDirective = "Greet the user and briefly introduce yourself as their task manager."

// PromptContext holds dynamic context for per-run prompt composition.
type PromptContext struct {
	Persona            string            // empty selects DefaultPersona
	CustomInstructions string            // from config
	ToolNames          []string          // active tool names
	ToolDescriptions   map[string]string // tool name → description
	Now                time.Time         // zero omits the date line
}

// PromptComposer builds the system instruction from context layers.
type PromptComposer struct{}

// NewPromptComposer creates a new PromptComposer.
func NewPromptComposer() *PromptComposer {
	return &PromptComposer{}
}

// ComposeAt returns a function composing the instruction for a given
// moment, so the date line follows the clock of a long-running process.
func (pc *PromptComposer) ComposeAt(pctx PromptContext) func(now time.Time) string {
	return func(now time.Time) string {
		at := pctx
		at.Now = now
		return pc.Compose(at)
	}
}

// Compose builds the system instruction. The persona always comes first.
func (pc *PromptComposer) Compose(pctx PromptContext) string {
	persona := pctx.Persona
	if persona == "" {
		persona = DefaultPersona
	}
	sections := []string{persona}

	if !pctx.Now.IsZero() {
		sections = append(sections, fmt.Sprintf(
			"## Current Date\n\nToday is %s. Resolve relative due dates such as \"tomorrow\" or \"next Friday\" to ISO-8601 dates.",
			pctx.Now.Format("Monday, January 2, 2006"),
		))
	}

	if pctx.CustomInstructions != "" {
		sections = append(sections, "## Additional Instructions\n\n"+pctx.CustomInstructions)
	}

	if len(pctx.ToolNames) > 0 {
		sorted := make([]string, len(pctx.ToolNames))
		copy(sorted, pctx.ToolNames)
		sort.Strings(sorted)

		var sb strings.Builder
		sb.WriteString("## Available Tools\n\n")
		sb.WriteString("Use a tool whenever the user asks to change or hear about their tasks:\n")
		for _, name := range sorted {
			if desc := pctx.ToolDescriptions[name]; desc != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
			} else {
				fmt.Fprintf(&sb, "- %s\n", name)
			}
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	return strings.Join(sections, "\n\n")
}
