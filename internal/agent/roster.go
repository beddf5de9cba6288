package agent

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/llm"
)

// Settings are the read-only inputs a Roster is built from.
type Settings struct {
	MaxRewrites   int
	MaxWords      int
	WindowMonths  int
	Temperature   float32
	MaxToolRounds int
	// Grounded selects built-in web search for the research role;
	// otherwise ResearchTools are bound.
	Grounded      bool
	InternalTools []Tool
	ResearchTools []Tool
}

// Roster holds one capability per working role plus the orchestrator's
// descriptor.
type Roster struct {
	InternalData *Capability
	Research     *Capability
	Synthesis    *Capability
	Validation   *Capability
	Orchestrator Descriptor
}

// Descriptors builds the five role descriptors with instructions dated today.
func Descriptors(s Settings, today time.Time) []Descriptor {
	return []Descriptor{
		{
			Role:        RoleInternalData,
			Name:        string(RoleInternalData),
			Description: "Searches internal annual reports for financial metrics.",
			Instruction: internalDataInstruction,
			Tools:       s.InternalTools,
		},
		{
			Role:        RoleResearch,
			Name:        string(RoleResearch),
			Description: "Finds verified nonprofit impact data from recent sources.",
			Instruction: ResearchInstruction(today, s.WindowMonths, s.Grounded),
			Grounded:    s.Grounded,
			Tools:       researchTools(s),
		},
		{
			Role:        RoleSynthesis,
			Name:        string(RoleSynthesis),
			Description: "Writes the donor story from the reports only.",
			Instruction: fmt.Sprintf(synthesisInstruction, Placeholder, s.MaxWords),
		},
		{
			Role:        RoleValidation,
			Name:        string(RoleValidation),
			Description: "Fact-checks the story and returns a verdict.",
			Instruction: fmt.Sprintf(validationInstruction, Placeholder, s.MaxWords),
			Schema:      VerdictSchema(),
		},
		{
			Role:        RoleOrchestrator,
			Name:        string(RoleOrchestrator),
			Description: "Sequences the pipeline and owns the rewrite loop.",
			Instruction: fmt.Sprintf(orchestratorInstruction, today.Format(DateLayout), s.WindowMonths, s.MaxRewrites),
		},
	}
}

func researchTools(s Settings) []Tool {
	if s.Grounded {
		return nil
	}
	return s.ResearchTools
}

// NewRoster builds and validates every role against gen.
func NewRoster(s Settings, gen llm.Generator, today time.Time, logger *zap.Logger) (*Roster, error) {
	if len(s.InternalTools) == 0 {
		return nil, fmt.Errorf("%s needs at least one tool", RoleInternalData)
	}
	if !s.Grounded && len(s.ResearchTools) == 0 {
		return nil, fmt.Errorf("%s needs grounded search or at least one tool", RoleResearch)
	}

	r := &Roster{}
	for _, d := range Descriptors(s, today) {
		if d.Role == RoleOrchestrator {
			if err := d.Validate(); err != nil {
				return nil, err
			}
			r.Orchestrator = d
			continue
		}
		c, err := NewCapability(d, gen, s.Temperature, s.MaxToolRounds, logger)
		if err != nil {
			return nil, err
		}
		switch d.Role {
		case RoleInternalData:
			r.InternalData = c
		case RoleResearch:
			r.Research = c
		case RoleSynthesis:
			r.Synthesis = c
		case RoleValidation:
			r.Validation = c
		}
	}
	return r, nil
}
