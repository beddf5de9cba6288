package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/agent"
	"github.com/TobiSchelling/ImpactStory/internal/llm"
	"github.com/TobiSchelling/ImpactStory/internal/session"
)

// State is a step of the orchestration state machine.
type State string

const (
	StateInit         State = "INIT"
	StateInternalData State = "INTERNAL_DATA"
	StateResearch     State = "RESEARCH"
	StateSynthesize   State = "SYNTHESIZE"
	StateValidate     State = "VALIDATE"
	StateRetry        State = "RETRY"
	StateFinalize     State = "FINALIZE"
	StateDone         State = "DONE"
)

// Input is what the entry point hands to an Orchestrator.
type Input struct {
	Subject     string
	UserContext string
}

// Orchestrator drives one run. It writes every stage event into sess and
// must finish by appending its final verdict as orchestrator-authored text.
type Orchestrator interface {
	Orchestrate(ctx context.Context, sess *session.Session, in Input) error
}

// StateMachine is the deterministic Orchestrator: internal data, research,
// then draft and validate until approved or out of rewrites.
type StateMachine struct {
	roster       *agent.Roster
	maxRewrites  int
	maxWords     int
	stageTimeout time.Duration
	today        time.Time
	recorder     Recorder
	logger       *zap.Logger
}

var orchestrator = string(agent.RoleOrchestrator)

// run is the mutable state of one Orchestrate call.
type run struct {
	state   State
	attempt int
	reports agent.Reports
	draft   string
	verdict *agent.Verdict
	final   string
}

// Orchestrate implements Orchestrator.
func (m *StateMachine) Orchestrate(ctx context.Context, sess *session.Session, in Input) error {
	r := &run{state: StateInit}
	for r.state != StateDone {
		m.logger.Debug("state", zap.String("session", sess.ID), zap.String("state", string(r.state)), zap.Int("attempt", r.attempt))
		next, err := m.step(ctx, sess, in, r)
		if err != nil {
			return err
		}
		r.state = next
	}
	return nil
}

func (m *StateMachine) step(ctx context.Context, sess *session.Session, in Input, r *run) (State, error) {
	switch r.state {
	case StateInit:
		sess.Append(session.Event{Author: orchestrator, Kind: session.KindInstruction, Text: m.roster.Orchestrator.Instruction})
		r.reports = agent.Reports{Subject: in.Subject, UserContext: in.UserContext}
		return StateInternalData, nil

	case StateInternalData:
		text, err := m.invoke(ctx, sess, m.roster.InternalData, agent.InternalDataInput(in.Subject, in.UserContext))
		if err != nil {
			return "", err
		}
		r.reports.Internal = text
		return StateResearch, nil

	case StateResearch:
		text, err := m.invoke(ctx, sess, m.roster.Research, agent.ResearchInput(in.Subject, in.UserContext, m.today))
		if err != nil {
			return "", err
		}
		r.reports.Research = text
		return StateSynthesize, nil

	case StateSynthesize:
		r.attempt++
		var rev *agent.Revision
		if r.verdict != nil {
			rev = &agent.Revision{
				Draft:         r.draft,
				FactualErrors: r.verdict.FactualErrors,
				WritingIssues: r.verdict.WritingIssues,
			}
		}
		text, err := m.invoke(ctx, sess, m.roster.Synthesis, agent.SynthesisInput(r.reports, rev))
		if err != nil {
			return "", err
		}
		r.draft = text
		return StateValidate, nil

	case StateValidate:
		raw, err := m.invoke(ctx, sess, m.roster.Validation, agent.ValidationInput(r.reports, r.draft))
		if err != nil {
			return "", err
		}
		v, err := agent.ParseVerdict(raw)
		if err != nil {
			m.logger.Warn("validation output is not a verdict",
				zap.String("session", sess.ID), zap.Int("attempt", r.attempt), zap.Error(err))
			// The last computed verdict stands; raw text only when there is none.
			if r.verdict == nil {
				r.final = raw
			}
			return StateFinalize, nil
		}
		v = v.CheckDraft(r.draft, m.maxWords).Normalize()
		if v.Story == "" {
			v.Story = r.draft
		}
		r.verdict = &v
		m.logger.Info("draft validated",
			zap.String("session", sess.ID),
			zap.Int("attempt", r.attempt),
			zap.String("status", string(v.Status)),
			zap.Int("factual_errors", len(v.FactualErrors)),
			zap.Int("writing_issues", len(v.WritingIssues)))
		if v.Approved() || r.attempt > m.maxRewrites {
			return StateFinalize, nil
		}
		return StateRetry, nil

	case StateRetry:
		// Draft n was rejected, so rewrite n comes next.
		rejected := r.attempt
		rewrite := rejected
		sess.AddText(orchestrator, fmt.Sprintf("Draft %d was rejected with %d factual errors and %d writing issues; requesting rewrite %d of %d.",
			rejected, len(r.verdict.FactualErrors), len(r.verdict.WritingIssues), rewrite, m.maxRewrites))
		return StateSynthesize, nil

	case StateFinalize:
		if r.final == "" {
			data, err := json.Marshal(r.verdict)
			if err != nil {
				return "", fmt.Errorf("encoding verdict: %w", err)
			}
			r.final = string(data)
		}
		sess.AddText(orchestrator, r.final)
		return StateDone, nil
	}
	return "", fmt.Errorf("unknown state %q", r.state)
}

// invoke runs one stage under the stage timeout and records its events.
func (m *StateMachine) invoke(ctx context.Context, sess *session.Session, c *agent.Capability, input string) (string, error) {
	name := c.Name()
	sess.Append(session.Event{Author: orchestrator, Kind: session.KindFunctionCall, Name: name, Text: input})

	sctx, cancel := context.WithTimeout(ctx, m.stageTimeout)
	defer cancel()

	start := time.Now()
	out, err := c.Invoke(sctx, []llm.Message{{Role: llm.RoleUser, Text: input}})
	elapsed := time.Since(start)
	if err != nil {
		outcome := "error"
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			outcome = "timeout"
			err = fmt.Errorf("%s after %s: %w", name, m.stageTimeout, ErrStageTimeout)
		}
		m.recorder.ObserveStage(name, outcome, elapsed)
		m.logger.Error("stage failed", zap.String("session", sess.ID), zap.String("stage", name), zap.Error(err))
		return "", err
	}
	m.recorder.ObserveStage(name, "ok", elapsed)

	for _, t := range out.Tools {
		sess.Append(session.Event{Author: name, Kind: session.KindFunctionCall, Name: t.Call.Name, Text: fmt.Sprint(t.Call.Args)})
		sess.Append(session.Event{Author: name, Kind: session.KindFunctionResponse, Name: t.Call.Name, Text: t.Output})
	}
	sess.AddText(name, out.Text)
	sess.Append(session.Event{Author: orchestrator, Kind: session.KindFunctionResponse, Name: name, Text: out.Text})

	m.logger.Info("stage complete",
		zap.String("session", sess.ID),
		zap.String("stage", name),
		zap.Int("tool_calls", len(out.Tools)),
		zap.Duration("elapsed", elapsed))
	return out.Text, nil
}
