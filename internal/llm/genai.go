package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIGenerator generates content through Gemini, either via the Gemini
// API or Vertex AI.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	return newGenAIGenerator(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model)
}

// NewVertexGenerator creates a generator backed by Vertex AI using
// application default credentials.
func NewVertexGenerator(ctx context.Context, project, location, model string) (*GenAIGenerator, error) {
	return newGenAIGenerator(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}, model)
}

func newGenAIGenerator(ctx context.Context, cc *genai.ClientConfig, model string) (*GenAIGenerator, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

// Generate runs one generateContent call.
func (g *GenAIGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Grounded {
		gc.Tools = append(gc.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  paramsSchema(t.Params).GenAI(),
			})
		}
		gc.Tools = append(gc.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if req.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = req.Schema.GenAI()
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genaiContents(req.Messages), gc)
	if err != nil {
		return Response{}, fmt.Errorf("GenAI generate failed: %w", err)
	}

	out := Response{Sources: groundingSources(resp)}
	for _, fc := range resp.FunctionCalls() {
		out.Calls = append(out.Calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
	}
	if len(out.Calls) == 0 {
		out.Text = resp.Text()
	}
	return out, nil
}

func genaiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleModel:
			var parts []*genai.Part
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, c := range m.Calls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: c.ID, Name: c.Name, Args: c.Args}})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			if m.Result == nil {
				continue
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.Result.CallID,
				Name:     m.Result.Name,
				Response: map[string]any{"output": m.Result.Output},
			}}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))
		}
	}
	return contents
}

func groundingSources(resp *genai.GenerateContentResponse) []Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var sources []Source
	seen := make(map[string]bool)
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true
		sources = append(sources, Source{URI: chunk.Web.URI, Title: strings.TrimSpace(chunk.Web.Title)})
	}
	return sources
}
