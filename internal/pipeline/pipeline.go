package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/agent"
	"github.com/TobiSchelling/ImpactStory/internal/config"
	"github.com/TobiSchelling/ImpactStory/internal/llm"
	"github.com/TobiSchelling/ImpactStory/internal/session"
)

// StatusError marks a result whose final text could not be parsed.
const StatusError = "ERROR"

// StepResult summarizes one stage of a run.
type StepResult struct {
	Name    string
	Summary string
}

// Result is the structured outcome of a run.
type Result struct {
	Status        string   `json:"status"`
	Story         string   `json:"story"`
	FactualErrors []string `json:"factual_errors"`
	WritingIssues []string `json:"writing_issues"`
	FactsSummary  string   `json:"facts_summary"`
	OrgID         string   `json:"org_id"`
	TotalElapsed  float64  `json:"total_elapsed"`

	SessionID string       `json:"-"`
	Attempts  int          `json:"-"`
	Steps     []StepResult `json:"-"`
}

// Tools are the function tools bound to the data-gathering roles.
type Tools struct {
	Internal []agent.Tool
	Research []agent.Tool
}

// Runner is the pipeline entry point. It holds read-only configuration
// only and is safe for concurrent use; every Run owns its session.
type Runner struct {
	settings     agent.Settings
	gen          llm.Generator
	runTimeout   time.Duration
	stageTimeout time.Duration
	recorder     Recorder
	logger       *zap.Logger
	now          func() time.Time
	orchestrator func(today time.Time) (Orchestrator, error)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithClock overrides time.Now for dating instructions.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithOrchestrator replaces the state machine.
func WithOrchestrator(o Orchestrator) Option {
	return func(r *Runner) {
		r.orchestrator = func(time.Time) (Orchestrator, error) { return o, nil }
	}
}

// NewRunner creates a Runner from a validated configuration.
func NewRunner(cfg *config.Config, gen llm.Generator, tools Tools, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		settings: agent.Settings{
			MaxRewrites:   cfg.Pipeline.MaxRewrites,
			MaxWords:      cfg.Pipeline.MaxWords,
			WindowMonths:  cfg.Research.WindowMonths,
			Temperature:   cfg.Generation.Temperature,
			MaxToolRounds: cfg.Generation.MaxToolRounds,
			Grounded:      cfg.Research.Mode == config.ResearchGrounded,
			InternalTools: tools.Internal,
			ResearchTools: tools.Research,
		},
		gen:          gen,
		runTimeout:   cfg.Pipeline.RunTimeout,
		stageTimeout: cfg.Pipeline.StageTimeout,
		recorder:     nopRecorder{},
		logger:       logger,
		now:          time.Now,
	}
	r.orchestrator = r.stateMachine
	for _, opt := range opts {
		opt(r)
	}
	// Build once so a bad roster fails at startup, not on the first request.
	if _, err := r.orchestrator(r.now()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) stateMachine(today time.Time) (Orchestrator, error) {
	roster, err := agent.NewRoster(r.settings, r.gen, today, r.logger)
	if err != nil {
		return nil, fmt.Errorf("building roster: %w", err)
	}
	return &StateMachine{
		roster:       roster,
		maxRewrites:  r.settings.MaxRewrites,
		maxWords:     r.settings.MaxWords,
		stageTimeout: r.stageTimeout,
		today:        today,
		recorder:     r.recorder,
		logger:       r.logger,
	}, nil
}

// Preamble is the opening message of every session.
func Preamble(subject, userContext string, today time.Time) string {
	return fmt.Sprintf("Nonprofit / Organization : %s\nAdditional context       : %s\nToday's date             : %s\n\nPlease begin the pipeline.",
		subject, userContext, today.Format(agent.DateLayout))
}

// Run generates an impact story for subject. It returns a *Failure for
// backend faults, timeouts and runs without output; a rejected or
// unparseable verdict is still a successful Result.
func (r *Runner) Run(ctx context.Context, subject, userContext string) (*Result, error) {
	start := time.Now()
	today := r.now()

	ctx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	sess := session.New(subject)
	logger := r.logger.With(zap.String("session", sess.ID))
	logger.Info("pipeline started", zap.String("subject", subject))

	orch, err := r.orchestrator(today)
	if err != nil {
		return nil, r.fail(logger, start, &Failure{Kind: FailureBackend, Err: err})
	}

	sess.AddText("user", Preamble(subject, userContext, today))
	if err := orch.Orchestrate(ctx, sess, Input{Subject: subject, UserContext: userContext}); err != nil {
		return nil, r.fail(logger, start, classify(ctx, err))
	}

	final, ok := sess.LastText(orchestrator)
	if !ok || strings.TrimSpace(final) == "" {
		return nil, r.fail(logger, start, &Failure{Kind: FailureEmptyResult, Err: ErrNoOutput})
	}

	res := &Result{
		OrgID:        subject,
		TotalElapsed: math.Round(time.Since(start).Seconds()*10) / 10,
		SessionID:    sess.ID,
		Attempts:     countCalls(sess, string(agent.RoleSynthesis)),
		Steps:        steps(sess),
	}
	if v, err := agent.ParseVerdict(final); err != nil {
		logger.Error("could not parse final output", zap.String("raw", final), zap.Error(err))
		res.Status = StatusError
		res.Story = final
		res.FactualErrors = []string{"Output parse failure: " + err.Error()}
		res.WritingIssues = []string{}
	} else {
		v = v.Normalize()
		res.Status = string(v.Status)
		res.Story = v.Story
		res.FactualErrors = v.FactualErrors
		res.WritingIssues = v.WritingIssues
		res.FactsSummary = v.FactsSummary
	}

	r.recorder.ObserveRun(res.Status, time.Since(start), res.Attempts)
	logger.Info("pipeline finished",
		zap.String("status", res.Status),
		zap.Int("attempts", res.Attempts),
		zap.Float64("total_elapsed", res.TotalElapsed))
	return res, nil
}

func (r *Runner) fail(logger *zap.Logger, start time.Time, f *Failure) *Failure {
	r.recorder.ObserveRun("failure_"+f.Kind.String(), time.Since(start), 0)
	logger.Error("pipeline failed", zap.String("kind", f.Kind.String()), zap.Error(f.Err))
	return f
}

func countCalls(sess *session.Session, name string) int {
	n := 0
	for _, e := range sess.Events() {
		if e.Author == orchestrator && e.Kind == session.KindFunctionCall && e.Name == name {
			n++
		}
	}
	return n
}

func steps(sess *session.Session) []StepResult {
	var out []StepResult
	for _, e := range sess.Events() {
		if e.Author == orchestrator && e.Kind == session.KindFunctionResponse {
			out = append(out, StepResult{Name: e.Name, Summary: summarize(e.Text)})
		}
	}
	return out
}

func summarize(text string) string {
	first := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	if runes := []rune(first); len(runes) > 80 {
		first = string(runes[:77]) + "..."
	}
	return fmt.Sprintf("%s (%d words)", first, agent.WordCount(text))
}
