package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/agent"
	"github.com/TobiSchelling/ImpactStory/internal/config"
	"github.com/TobiSchelling/ImpactStory/internal/llm"
	"github.com/TobiSchelling/ImpactStory/internal/llm/llmtest"
	"github.com/TobiSchelling/ImpactStory/internal/session"
)

func TestMain(m *testing.M) {
	// The genai client's opencensus dependency starts a stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	internalName   = string(agent.RoleInternalData)
	researchName   = string(agent.RoleResearch)
	synthesisName  = string(agent.RoleSynthesis)
	validationName = string(agent.RoleValidation)
)

func verdictJSON(status agent.Status, story string, factual, writing []string) string {
	if factual == nil {
		factual = []string{}
	}
	if writing == nil {
		writing = []string{}
	}
	data, _ := json.Marshal(agent.Verdict{
		Status: status, Story: story, FactualErrors: factual, WritingIssues: writing,
		FactsSummary: "Served 1,200 families in 2026.",
	})
	return string(data)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pipeline.RunTimeout = 5 * time.Second
	cfg.Pipeline.StageTimeout = 2 * time.Second
	return cfg
}

func stubTools() Tools {
	return Tools{Internal: []agent.Tool{agent.ToolFunc{
		Decl: llm.FunctionDecl{Name: "search_annual_reports"},
		Fn:   func(context.Context, map[string]any) string { return "No annual report data found." },
	}}}
}

// scriptedFake answers the data stages with fixed reports and numbers each draft.
func scriptedFake(verdicts ...string) *llmtest.Fake {
	return llmtest.New().
		Text(internalName, "INTERNAL: $10 provides a meal.").
		Text(researchName, "RESEARCH: 1,200 families served | Source: https://example.org | Date: May 2026").
		On(synthesisName, func(_ llm.Request, n int) (llm.Response, error) {
			return llm.Response{Text: fmt.Sprintf("draft %d", n+1)}, nil
		}).
		Sequence(validationName, verdicts...)
}

func newRunner(t *testing.T, cfg *config.Config, gen llm.Generator, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, gen, stubTools(), zap.NewNop(), opts...)
	require.NoError(t, err)
	return r
}

func TestScenarioA_RejectedThenApproved(t *testing.T) {
	fake := scriptedFake(
		verdictJSON(agent.StatusRejected, "draft 1", []string{"The 5,000 meals figure is unsupported."}, nil),
		verdictJSON(agent.StatusApproved, "draft 2", nil, nil),
	)
	res, err := newRunner(t, testConfig(), fake).Run(context.Background(), "Example Nonprofit", "$500 donation")
	require.NoError(t, err)

	assert.Equal(t, 2, fake.Count(synthesisName))
	assert.Equal(t, 2, fake.Count(validationName))
	assert.Equal(t, "APPROVED", res.Status)
	assert.Equal(t, "draft 2", res.Story)
	assert.Empty(t, res.FactualErrors)
	assert.Empty(t, res.WritingIssues)
	assert.Equal(t, "Example Nonprofit", res.OrgID)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, strings.HasPrefix(res.SessionID, "Example_Nonprofit_"))
}

func TestScenarioB_RejectedEveryAttempt(t *testing.T) {
	cfg := testConfig()
	fake := scriptedFake(verdictJSON(agent.StatusRejected, "", nil, []string{"Passive voice in paragraph 2."}))
	res, err := newRunner(t, cfg, fake).Run(context.Background(), "Example Nonprofit", "")
	require.NoError(t, err)

	want := cfg.Pipeline.MaxRewrites + 1
	assert.Equal(t, want, fake.Count(synthesisName))
	assert.Equal(t, want, fake.Count(validationName))
	assert.Equal(t, "REJECTED", res.Status)
	assert.NotEmpty(t, res.WritingIssues)
	assert.Equal(t, fmt.Sprintf("draft %d", want), res.Story)
}

func TestSynthesisAndValidationCountsAcrossLimits(t *testing.T) {
	for _, maxRewrites := range []int{0, 1, 3} {
		for approveAt := 1; approveAt <= maxRewrites+2; approveAt++ {
			verdicts := make([]string, 0, approveAt)
			for i := 1; i < approveAt; i++ {
				verdicts = append(verdicts, verdictJSON(agent.StatusRejected, "", []string{"unsupported"}, nil))
			}
			verdicts = append(verdicts, verdictJSON(agent.StatusApproved, "", nil, nil))

			cfg := testConfig()
			cfg.Pipeline.MaxRewrites = maxRewrites
			fake := scriptedFake(verdicts...)
			res, err := newRunner(t, cfg, fake).Run(context.Background(), "Acme", "")
			require.NoError(t, err)

			synth := fake.Count(synthesisName)
			assert.GreaterOrEqual(t, synth, 1)
			assert.LessOrEqual(t, synth, maxRewrites+1)
			assert.Equal(t, synth, fake.Count(validationName))
			assert.Equal(t, res.Status == "APPROVED", len(res.FactualErrors) == 0 && len(res.WritingIssues) == 0)
		}
	}
}

func TestRetryCarriesReportsDraftAndErrors(t *testing.T) {
	factual := []string{"The 5,000 meals figure is unsupported.", "No source for the 2019 award."}
	writing := []string{"Sentence 3 uses passive voice."}
	fake := scriptedFake(
		verdictJSON(agent.StatusRejected, "draft 1", factual, writing),
		verdictJSON(agent.StatusApproved, "draft 2", nil, nil),
	)
	_, err := newRunner(t, testConfig(), fake).Run(context.Background(), "Acme", "ctx")
	require.NoError(t, err)

	reqs := fake.Requests(synthesisName)
	require.Len(t, reqs, 2)
	first, second := llmtest.LastUserText(reqs[0]), llmtest.LastUserText(reqs[1])

	reports := agent.Reports{
		Subject:     "Acme",
		UserContext: "ctx",
		Internal:    "INTERNAL: $10 provides a meal.",
		Research:    "RESEARCH: 1,200 families served | Source: https://example.org | Date: May 2026",
	}
	assert.Equal(t, agent.SynthesisInput(reports, nil), first)
	assert.Equal(t, agent.SynthesisInput(reports, &agent.Revision{
		Draft: "draft 1", FactualErrors: factual, WritingIssues: writing,
	}), second)
	assert.True(t, strings.HasPrefix(second, reports.String()))

	vreqs := fake.Requests(validationName)
	require.Len(t, vreqs, 2)
	assert.Contains(t, llmtest.LastUserText(vreqs[1]), "STORY DRAFT:\ndraft 2")
	assert.NotNil(t, vreqs[0].Schema)
	assert.True(t, fake.Requests(researchName)[0].Grounded)
}

// emitting is an Orchestrator that writes a fixed sequence of events.
type emitting struct {
	events []session.Event
}

func (e emitting) Orchestrate(_ context.Context, sess *session.Session, _ Input) error {
	for _, ev := range e.events {
		sess.Append(ev)
	}
	return nil
}

func orchText(text string) session.Event {
	return session.Event{Author: orchestrator, Kind: session.KindText, Text: text}
}

func TestScenarioC_NoOrchestratorText(t *testing.T) {
	orch := emitting{events: []session.Event{
		{Author: orchestrator, Kind: session.KindFunctionCall, Name: validationName, Text: "check"},
		{Author: validationName, Kind: session.KindText, Text: verdictJSON(agent.StatusApproved, "s", nil, nil)},
		{Author: orchestrator, Kind: session.KindFunctionResponse, Name: validationName, Text: "{}"},
	}}
	res, err := newRunner(t, testConfig(), scriptedFake(), WithOrchestrator(orch)).Run(context.Background(), "Acme", "")
	assert.Nil(t, res)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureEmptyResult, f.Kind)
	assert.ErrorIs(t, err, ErrNoOutput)
	assert.Contains(t, err.Error(), "Impact story generation failed")
}

func TestScenarioD_FencedWrapper(t *testing.T) {
	final := "```json\n{\"result\":{\"status\":\"APPROVED\",\"story\":\"...\",\"factual_errors\":[],\"writing_issues\":[],\"facts_summary\":\"...\"}}\n```"
	res, err := newRunner(t, testConfig(), scriptedFake(), WithOrchestrator(emitting{events: []session.Event{orchText(final)}})).
		Run(context.Background(), "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", res.Status)
	assert.Equal(t, "...", res.Story)
	assert.Equal(t, "...", res.FactsSummary)
}

func TestScenarioE_UnparseableProse(t *testing.T) {
	final := "I was unable to produce a verdict for this nonprofit."
	res, err := newRunner(t, testConfig(), scriptedFake(), WithOrchestrator(emitting{events: []session.Event{orchText(final)}})).
		Run(context.Background(), "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, final, res.Story)
	require.Len(t, res.FactualErrors, 1)
	assert.True(t, strings.HasPrefix(res.FactualErrors[0], "Output parse failure: "))
	assert.NotNil(t, res.WritingIssues)
	assert.Empty(t, res.WritingIssues)
}

func TestLastOrchestratorTextWins(t *testing.T) {
	orch := emitting{events: []session.Event{
		orchText(verdictJSON(agent.StatusRejected, "old", []string{"x"}, nil)),
		orchText(verdictJSON(agent.StatusApproved, "new", nil, nil)),
		{Author: orchestrator, Kind: session.KindFunctionCall, Name: synthesisName, Text: "not text"},
		{Author: validationName, Kind: session.KindText, Text: verdictJSON(agent.StatusRejected, "sub", []string{"y"}, nil)},
	}}
	res, err := newRunner(t, testConfig(), scriptedFake(), WithOrchestrator(orch)).Run(context.Background(), "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", res.Status)
	assert.Equal(t, "new", res.Story)
}

func TestFinalVerdictIsNormalized(t *testing.T) {
	orch := emitting{events: []session.Event{
		orchText(verdictJSON(agent.StatusApproved, "s", []string{"unsupported claim"}, nil)),
	}}
	res, err := newRunner(t, testConfig(), scriptedFake(), WithOrchestrator(orch)).Run(context.Background(), "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", res.Status)
}

func TestUnparseableValidationFinalizesWithRawText(t *testing.T) {
	fake := scriptedFake("The draft looks fine to me!")
	res, err := newRunner(t, testConfig(), fake).Run(context.Background(), "Acme", "")
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Count(synthesisName))
	assert.Equal(t, 1, fake.Count(validationName))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "The draft looks fine to me!", res.Story)
}

func TestUnparseableRevalidationKeepsLastVerdict(t *testing.T) {
	fake := scriptedFake(
		verdictJSON(agent.StatusRejected, "", []string{"The 5,000 meals figure is unsupported."}, nil),
		"Looks good overall, nice work!",
	)
	res, err := newRunner(t, testConfig(), fake).Run(context.Background(), "Acme", "")
	require.NoError(t, err)

	assert.Equal(t, 2, fake.Count(synthesisName))
	assert.Equal(t, 2, fake.Count(validationName))
	assert.Equal(t, "REJECTED", res.Status)
	assert.Equal(t, "draft 1", res.Story)
	assert.Equal(t, []string{"The 5,000 meals figure is unsupported."}, res.FactualErrors)
}

func TestRetryAnnouncesRewrite(t *testing.T) {
	fake := scriptedFake(
		verdictJSON(agent.StatusRejected, "", []string{"unsupported"}, nil),
		verdictJSON(agent.StatusRejected, "", nil, []string{"too long", "passive voice"}),
		verdictJSON(agent.StatusApproved, "", nil, nil),
	)
	built, err := newRunner(t, testConfig(), fake).stateMachine(time.Now())
	require.NoError(t, err)

	sess := session.New("Acme")
	require.NoError(t, built.Orchestrate(context.Background(), sess, Input{Subject: "Acme"}))

	var texts []string
	for _, e := range sess.Events() {
		if e.Author == orchestrator && e.Kind == session.KindText {
			texts = append(texts, e.Text)
		}
	}
	require.Len(t, texts, 3)
	assert.Equal(t, "Draft 1 was rejected with 1 factual errors and 0 writing issues; requesting rewrite 1 of 2.", texts[0])
	assert.Equal(t, "Draft 2 was rejected with 0 factual errors and 2 writing issues; requesting rewrite 2 of 2.", texts[1])
	assert.Contains(t, texts[2], `"status":"APPROVED"`)
}

func TestPlaceholderForcesRejection(t *testing.T) {
	fake := scriptedFake(verdictJSON(agent.StatusApproved, "", nil, nil))
	fake.Text(synthesisName, "Your gift of "+agent.Placeholder+" keeps shelters open.")

	res, err := newRunner(t, testConfig(), fake).Run(context.Background(), "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", res.Status)
	assert.Equal(t, 3, fake.Count(synthesisName))
}

func TestPreambleStartsSession(t *testing.T) {
	today := time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return today })

	built, err := newRunner(t, testConfig(), scriptedFake(verdictJSON(agent.StatusApproved, "draft 1", nil, nil)), clock).stateMachine(today)
	require.NoError(t, err)
	sm := built.(*StateMachine)

	var events []session.Event
	orch := orchestratorFunc(func(ctx context.Context, sess *session.Session, in Input) error {
		err := sm.Orchestrate(ctx, sess, in)
		events = sess.Events()
		return err
	})
	res, err := newRunner(t, testConfig(), scriptedFake(), WithOrchestrator(orch), clock).
		Run(context.Background(), "Acme", "$250 gift")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)

	first := events[0]
	assert.Equal(t, "user", first.Author)
	assert.Equal(t, Preamble("Acme", "$250 gift", today), first.Text)
	assert.Contains(t, first.Text, "Today's date             : October 17, 2026")
	assert.Contains(t, first.Text, "Please begin the pipeline.")

	second := events[1]
	assert.Equal(t, orchestrator, second.Author)
	assert.Equal(t, session.KindInstruction, second.Kind)
	assert.Equal(t, sm.roster.Orchestrator.Instruction, second.Text)
	assert.Contains(t, second.Text, "today is October 17, 2026")

	assert.Equal(t, "APPROVED", res.Status)
	assert.Equal(t, "draft 1", res.Story)
}

type orchestratorFunc func(ctx context.Context, sess *session.Session, in Input) error

func (f orchestratorFunc) Orchestrate(ctx context.Context, sess *session.Session, in Input) error {
	return f(ctx, sess, in)
}

func TestBackendErrorIsFailure(t *testing.T) {
	boom := errors.New("503 from backend")
	fake := scriptedFake().On(researchName, func(llm.Request, int) (llm.Response, error) {
		return llm.Response{}, boom
	})
	res, err := newRunner(t, testConfig(), fake).Run(context.Background(), "Acme", "")
	assert.Nil(t, res)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureBackend, f.Kind)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, fake.Count(synthesisName))
}

// blocking stalls one stage until its context ends.
type blocking struct {
	llm.Generator
	stage string
}

func (b blocking) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if req.Name == b.stage {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}
	return b.Generator.Generate(ctx, req)
}

func TestStageTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.StageTimeout = 30 * time.Millisecond
	gen := blocking{Generator: scriptedFake(verdictJSON(agent.StatusApproved, "", nil, nil)), stage: synthesisName}

	_, err := newRunner(t, cfg, gen).Run(context.Background(), "Acme", "")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureTimeout, f.Kind)
	assert.ErrorIs(t, err, ErrStageTimeout)
}

func TestRunTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.RunTimeout = 30 * time.Millisecond
	cfg.Pipeline.StageTimeout = time.Minute
	gen := blocking{Generator: scriptedFake(), stage: researchName}

	_, err := newRunner(t, cfg, gen).Run(context.Background(), "Acme", "")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureTimeout, f.Kind)
}

func TestCancellationDoesNotAffectOtherRuns(t *testing.T) {
	fake := scriptedFake(verdictJSON(agent.StatusApproved, "", nil, nil))
	r := newRunner(t, testConfig(), blocking{Generator: fake, stage: "never"})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(cancelled, "Cancelled Org", "")
	require.Error(t, err)

	res, err := r.Run(context.Background(), "Live Org", "")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", res.Status)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	fake := llmtest.New().
		On(internalName, func(req llm.Request, _ int) (llm.Response, error) {
			return llm.Response{Text: "INTERNAL for " + llmtest.LastUserText(req)}, nil
		}).
		On(researchName, func(req llm.Request, _ int) (llm.Response, error) {
			return llm.Response{Text: "RESEARCH for " + llmtest.LastUserText(req)}, nil
		}).
		On(synthesisName, func(req llm.Request, _ int) (llm.Response, error) {
			subject := strings.TrimPrefix(strings.SplitN(llmtest.LastUserText(req), "\n", 2)[0], "NONPROFIT: ")
			return llm.Response{Text: "story about " + subject}, nil
		}).
		Text(validationName, verdictJSON(agent.StatusApproved, "", nil, nil))
	r := newRunner(t, testConfig(), fake)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Run(context.Background(), fmt.Sprintf("Org %d", i), "")
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("story about Org %d", i), results[i].Story)
		assert.Equal(t, fmt.Sprintf("Org %d", i), results[i].OrgID)
		assert.Equal(t, 1, results[i].Attempts)
		ids[results[i].SessionID] = true
	}
	assert.Len(t, ids, n)
	assert.Equal(t, n, fake.Count(synthesisName))
}

type countingRecorder struct {
	mu     sync.Mutex
	stages map[string]int
	runs   []string
}

func (c *countingRecorder) ObserveStage(stage, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[stage+"/"+outcome]++
}

func (c *countingRecorder) ObserveRun(status string, _ time.Duration, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, status)
}

func TestRecorderSeesStagesAndRuns(t *testing.T) {
	rec := &countingRecorder{stages: map[string]int{}}
	fake := scriptedFake(
		verdictJSON(agent.StatusRejected, "", []string{"x"}, nil),
		verdictJSON(agent.StatusApproved, "", nil, nil),
	)
	res, err := newRunner(t, testConfig(), fake, WithRecorder(rec)).Run(context.Background(), "Acme", "")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.stages[internalName+"/ok"])
	assert.Equal(t, 1, rec.stages[researchName+"/ok"])
	assert.Equal(t, 2, rec.stages[synthesisName+"/ok"])
	assert.Equal(t, 2, rec.stages[validationName+"/ok"])
	assert.Equal(t, []string{"APPROVED"}, rec.runs)

	require.Len(t, res.Steps, 6)
	assert.Equal(t, internalName, res.Steps[0].Name)
	assert.Equal(t, validationName, res.Steps[5].Name)
}

func TestNewRunnerRejectsBadRoster(t *testing.T) {
	cfg := testConfig()
	cfg.Research.Mode = config.ResearchTools
	_, err := NewRunner(cfg, scriptedFake(), stubTools(), nil)
	assert.Error(t, err)
}
