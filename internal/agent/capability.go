package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/llm"
)

// ErrEmptyOutput means the backend finished without producing any text.
var ErrEmptyOutput = errors.New("generation returned no text")

// ErrToolRounds means the model kept requesting tools past the round limit.
var ErrToolRounds = errors.New("tool round limit exceeded")

// ToolTrace records one tool call made during an invocation.
type ToolTrace struct {
	Call   llm.ToolCall
	Output string
}

// Output is the result of one capability invocation.
type Output struct {
	Text  string
	Tools []ToolTrace
}

// Capability runs a Descriptor against a Generator.
type Capability struct {
	desc        Descriptor
	gen         llm.Generator
	temperature float32
	maxRounds   int
	logger      *zap.Logger
}

// NewCapability validates desc and binds it to gen.
func NewCapability(desc Descriptor, gen llm.Generator, temperature float32, maxRounds int, logger *zap.Logger) (*Capability, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("%s: generator is required", desc.Name)
	}
	if maxRounds < 1 {
		maxRounds = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capability{
		desc:        desc,
		gen:         gen,
		temperature: temperature,
		maxRounds:   maxRounds,
		logger:      logger.With(zap.String("role", string(desc.Role))),
	}, nil
}

// Descriptor returns the capability's definition.
func (c *Capability) Descriptor() Descriptor { return c.desc }

// Name returns the capability name.
func (c *Capability) Name() string { return c.desc.Name }

// Invoke runs the capability on history. Tool calls requested by the model
// are executed and answered until the model produces final text.
func (c *Capability) Invoke(ctx context.Context, history []llm.Message) (Output, error) {
	start := time.Now()
	msgs := make([]llm.Message, len(history))
	copy(msgs, history)

	var (
		out     Output
		sources []llm.Source
	)
	for round := 0; round < c.maxRounds; round++ {
		resp, err := c.gen.Generate(ctx, llm.Request{
			Name:        c.desc.Name,
			System:      c.desc.Instruction,
			Messages:    msgs,
			Tools:       c.desc.declarations(),
			Grounded:    c.desc.Grounded,
			Schema:      c.desc.Schema,
			Temperature: c.temperature,
		})
		if err != nil {
			return Output{}, fmt.Errorf("%s: %w", c.desc.Name, err)
		}
		sources = append(sources, resp.Sources...)

		if len(resp.Calls) == 0 {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return Output{}, fmt.Errorf("%s: %w", c.desc.Name, ErrEmptyOutput)
			}
			out.Text = withSources(text, sources)
			c.logger.Debug("invocation complete",
				zap.Int("rounds", round+1),
				zap.Int("tool_calls", len(out.Tools)),
				zap.Duration("elapsed", time.Since(start)))
			return out, nil
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleModel, Text: resp.Text, Calls: resp.Calls})
		for _, call := range resp.Calls {
			result := c.callTool(ctx, call)
			out.Tools = append(out.Tools, ToolTrace{Call: call, Output: result})
			msgs = append(msgs, llm.Message{
				Role:   llm.RoleTool,
				Result: &llm.ToolResult{CallID: call.ID, Name: call.Name, Output: result},
			})
		}
	}
	return Output{}, fmt.Errorf("%s: %w (%d)", c.desc.Name, ErrToolRounds, c.maxRounds)
}

func (c *Capability) callTool(ctx context.Context, call llm.ToolCall) string {
	tool, ok := c.desc.tool(call.Name)
	if !ok {
		c.logger.Warn("model requested unknown tool", zap.String("tool", call.Name))
		return fmt.Sprintf("Unknown tool %q. Available tools: %s.", call.Name, strings.Join(c.toolNames(), ", "))
	}
	c.logger.Debug("calling tool", zap.String("tool", call.Name), zap.Any("args", call.Args))
	return tool.Call(ctx, call.Args)
}

func (c *Capability) toolNames() []string {
	names := make([]string, 0, len(c.desc.Tools))
	for _, t := range c.desc.Tools {
		names = append(names, t.Declaration().Name)
	}
	return names
}

// withSources appends grounding locators so later stages can cite them.
func withSources(text string, sources []llm.Source) string {
	if len(sources) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nSources:\n")
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if seen[s.URI] {
			continue
		}
		seen[s.URI] = true
		if s.Title != "" {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.URI)
		} else {
			fmt.Fprintf(&b, "- %s\n", s.URI)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
