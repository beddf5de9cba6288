package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/config"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	CallID string
	Name   string
	Output string
}

// Message is one turn of a conversation handed to a Generator.
// A model turn may carry Calls; a tool turn carries exactly one Result.
type Message struct {
	Role   Role
	Text   string
	Calls  []ToolCall
	Result *ToolResult
}

// FunctionDecl declares a callable tool. Parameters are plain string fields.
type FunctionDecl struct {
	Name        string
	Description string
	Params      []Param
}

type Param struct {
	Name        string
	Description string
}

// Request is a single generation call.
type Request struct {
	// Name labels the caller (the capability name) for logs and fakes.
	Name        string
	System      string
	Messages    []Message
	Tools       []FunctionDecl
	Grounded    bool
	Schema      *Schema
	Temperature float32
}

// Source is a web locator backing grounded output.
type Source struct {
	URI   string
	Title string
}

// Response is what a Generator returns. Either Calls is non-empty and the
// caller must answer them, or Text is final.
type Response struct {
	Text    string
	Calls   []ToolCall
	Sources []Source
}

// Generator is the interface for text-generation backends.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// NewGenerator creates the backend selected by a validated configuration.
func NewGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Generator, error) {
	g := cfg.Generation
	secrets := cfg.Secrets()
	switch g.Backend {
	case config.BackendGemini:
		logger.Info("using Gemini API", zap.String("model", g.Model))
		return NewGeminiGenerator(ctx, secrets.GenAIAPIKey, g.Model)
	case config.BackendVertex:
		logger.Info("using Vertex AI",
			zap.String("model", g.Model),
			zap.String("project", g.Project),
			zap.String("location", g.Location))
		return NewVertexGenerator(ctx, g.Project, g.Location, g.Model)
	case config.BackendOpenAI:
		logger.Info("using OpenAI", zap.String("model", g.OpenAIModel))
		return NewOpenAIGenerator(secrets.OpenAIAPIKey, g.OpenAIModel, g.OpenAIBaseURL)
	default:
		return nil, fmt.Errorf("unknown generation backend %q", g.Backend)
	}
}
