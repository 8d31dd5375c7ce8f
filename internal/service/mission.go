package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/consilium-health/consilium/internal/adapter/otel"
	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/domain/event"
	"github.com/consilium-health/consilium/internal/domain/intent"
	"github.com/consilium-health/consilium/internal/domain/mission"
	"github.com/consilium-health/consilium/internal/port/broadcast"
	"github.com/consilium-health/consilium/internal/port/database"
	"github.com/consilium-health/consilium/internal/port/eventstore"
	"github.com/consilium-health/consilium/internal/port/messagequeue"
)

// Checkpoint option ids understood by the engine.
const (
	CheckpointApprove = "approve"
	CheckpointRevise  = "revise"
	CheckpointAbort   = "abort"
)

// StartMissionRequest begins an autonomous mission.
type StartMissionRequest struct {
	ConversationID string  `json:"conversation_id,omitempty"`
	Objective      string  `json:"objective"`
	Profile        string  `json:"profile,omitempty"`
	BudgetUSD      float64 `json:"budget_usd,omitempty"`
}

// checkpointReply carries one client checkpoint response into the run
// goroutine and the validation verdict back out.
type checkpointReply struct {
	checkpointID string
	optionID     string
	result       chan error
}

// missionRun is the in-memory state of one live mission goroutine. The run
// goroutine is the only writer of the Mission aggregate after Start.
type missionRun struct {
	seq     atomic.Int64
	respond chan checkpointReply
	abort   chan struct{}
	expired chan struct{}

	abortOnce   sync.Once
	expiredOnce sync.Once

	mu         sync.Mutex
	cancelStep context.CancelFunc
}

func (r *missionRun) requestAbort() {
	r.abortOnce.Do(func() { close(r.abort) })
	r.mu.Lock()
	if r.cancelStep != nil {
		r.cancelStep() // cancels the current step only; completed work stays
	}
	r.mu.Unlock()
}

func (r *missionRun) expireCheckpoint() {
	r.expiredOnce.Do(func() { close(r.expired) })
}

func (r *missionRun) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancelStep = cancel
	r.mu.Unlock()
}

func (r *missionRun) aborted() bool {
	select {
	case <-r.abort:
		return true
	default:
		return false
	}
}

// MissionService owns the autonomous mission lifecycle: planning, the step
// loop, checkpoints, budget enforcement, and abort. One goroutine per live
// mission; the durable record in the store is updated at every transition.
type MissionService struct {
	store       database.Store
	events      eventstore.Store
	classifier  *intent.Classifier
	planner     *PlannerService
	selector    *SelectorService
	retrieval   *RetrievalService
	executor    *ExecutorService
	synthesis   *SynthesisService
	cost        *CostService
	broadcaster broadcast.Broadcaster
	cfg         *config.Mission
	metrics     *cotel.Metrics
	queue       messagequeue.Queue

	mu      sync.Mutex
	running map[string]*missionRun
}

// SetMetrics attaches optional metric instruments. Safe to leave unset;
// recording is skipped when nil.
func (s *MissionService) SetMetrics(m *cotel.Metrics) { s.metrics = m }

// SetQueue attaches the message queue. When set, every mission event is
// mirrored to missions.events.{id} and aborts are accepted over
// missions.abort. Safe to leave unset.
func (s *MissionService) SetQueue(q messagequeue.Queue) { s.queue = q }

// NewMissionService creates a MissionService.
func NewMissionService(
	store database.Store,
	events eventstore.Store,
	classifier *intent.Classifier,
	planner *PlannerService,
	selector *SelectorService,
	retrieval *RetrievalService,
	executor *ExecutorService,
	synthesis *SynthesisService,
	cost *CostService,
	broadcaster broadcast.Broadcaster,
	cfg *config.Mission,
) *MissionService {
	return &MissionService{
		store:       store,
		events:      events,
		classifier:  classifier,
		planner:     planner,
		selector:    selector,
		retrieval:   retrieval,
		executor:    executor,
		synthesis:   synthesis,
		cost:        cost,
		broadcaster: broadcaster,
		cfg:         cfg,
		running:     make(map[string]*missionRun),
	}
}

// Start creates and launches a mission. The returned snapshot is the state
// at creation; progress flows through the event stream.
func (s *MissionService) Start(ctx context.Context, req StartMissionRequest) (*mission.Mission, error) {
	if req.Objective == "" {
		return nil, fmt.Errorf("start mission: objective is required: %w", domain.ErrInvalidInput)
	}

	profile := mission.Profile(req.Profile)
	switch profile {
	case mission.ProfileRapid, mission.ProfileStandard, mission.ProfileDeep:
	case "":
		profile = mission.ProfileStandard
	default:
		return nil, fmt.Errorf("start mission: unknown profile %q: %w", req.Profile, domain.ErrInvalidInput)
	}

	budget := req.BudgetUSD
	if budget <= 0 {
		budget = s.cfg.DefaultBudgetUSD
	}

	now := time.Now()
	m := &mission.Mission{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Objective:      req.Objective,
		Profile:        profile,
		Status:         mission.StatusIdle,
		BudgetLimitUSD: budget,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMission(ctx, m); err != nil {
		return nil, fmt.Errorf("start mission: %w", err)
	}

	r := &missionRun{
		respond: make(chan checkpointReply),
		abort:   make(chan struct{}),
		expired: make(chan struct{}),
	}
	s.mu.Lock()
	s.running[m.ID] = r
	s.mu.Unlock()

	go s.run(m, r)

	slog.Info("mission started", "mission_id", m.ID, "profile", profile, "budget_usd", budget)
	return m, nil
}

// Get returns a mission snapshot.
func (s *MissionService) Get(ctx context.Context, id string) (*mission.Mission, error) {
	return s.store.GetMission(ctx, id)
}

// List returns missions for a conversation, newest first.
func (s *MissionService) List(ctx context.Context, conversationID string, limit int) ([]mission.Mission, error) {
	return s.store.ListMissions(ctx, conversationID, limit)
}

// Events replays a mission's event stream from after the given sequence
// number. Used by clients resuming a dropped stream.
func (s *MissionService) Events(ctx context.Context, missionID string, after int64) ([]event.Event, error) {
	if after > 0 {
		return s.events.LoadAfter(ctx, missionID, after)
	}
	return s.events.LoadByMission(ctx, missionID)
}

// EventsFiltered replays the mission events matching the filter, ordered by
// seq. Used for narrowed replays such as artifact-only or time-windowed.
func (s *MissionService) EventsFiltered(ctx context.Context, missionID string, f eventstore.Filter) ([]event.Event, error) {
	return s.events.LoadFiltered(ctx, missionID, f)
}

// Abort requests a halt. The current step's context is canceled; completed
// steps, artifacts, and recorded spend are retained.
func (s *MissionService) Abort(ctx context.Context, missionID string) error {
	s.mu.Lock()
	r, live := s.running[missionID]
	s.mu.Unlock()

	if live {
		r.requestAbort()
		return nil
	}

	// Not running in this process (e.g. orphaned by a restart).
	m, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return err
	}
	if m.Status.IsTerminal() {
		return fmt.Errorf("abort mission %s: already %s", missionID, m.Status)
	}
	if err := m.Fail(mission.ReasonAborted); err != nil {
		return err
	}
	m.Checkpoint = nil
	return s.store.UpdateMission(ctx, m)
}

// RespondCheckpoint applies a client decision to the mission's outstanding
// checkpoint. Invalid responses return an error and change nothing.
func (s *MissionService) RespondCheckpoint(ctx context.Context, resp event.CheckpointResponse) error {
	s.mu.Lock()
	r, live := s.running[resp.MissionID]
	s.mu.Unlock()

	if live {
		reply := checkpointReply{
			checkpointID: resp.CheckpointID,
			optionID:     resp.OptionID,
			result:       make(chan error, 1),
		}
		select {
		case r.respond <- reply:
			return <-reply.result
		case <-time.After(5 * time.Second):
			return fmt.Errorf("mission %s is not awaiting a checkpoint: %w", resp.MissionID, domain.ErrNotFound)
		}
	}

	// Orphaned awaiting_checkpoint mission: resolve durably. It stays
	// suspended until restarted or expired, but the decision is recorded.
	m, err := s.store.GetMission(ctx, resp.MissionID)
	if err != nil {
		return err
	}
	if _, err := m.ResolveCheckpoint(resp.CheckpointID, resp.OptionID); err != nil {
		return err
	}
	return s.store.UpdateMission(ctx, m)
}

// StartJanitor sweeps for checkpoints that have outlived their TTL and
// aborts the owning missions. Blocks until ctx ends.
func (s *MissionService) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredCheckpoints(ctx)
		}
	}
}

func (s *MissionService) sweepExpiredCheckpoints(ctx context.Context) {
	missions, err := s.store.ListAwaitingCheckpoint(ctx)
	if err != nil {
		slog.Error("checkpoint sweep failed", "error", err)
		return
	}

	now := time.Now()
	for i := range missions {
		m := &missions[i]
		if !m.CheckpointExpired(s.cfg.CheckpointTTL, now) {
			continue
		}

		s.mu.Lock()
		r, live := s.running[m.ID]
		s.mu.Unlock()

		if live {
			r.expireCheckpoint()
			continue
		}

		// Orphaned mission: fail it durably.
		if err := m.Fail(mission.ReasonCheckpointTimeout); err != nil {
			continue
		}
		m.Checkpoint = nil
		if err := s.store.UpdateMission(ctx, m); err != nil {
			slog.Error("expire orphaned checkpoint failed", "mission_id", m.ID, "error", err)
		} else {
			slog.Warn("mission aborted: checkpoint unanswered past ttl", "mission_id", m.ID)
		}
	}
}

// --- run loop ---

// run drives one mission from planning to a terminal state. It is the sole
// writer of m after Start.
func (s *MissionService) run(m *mission.Mission, r *missionRun) {
	ctx := context.Background()
	defer func() {
		s.mu.Lock()
		delete(s.running, m.ID)
		s.mu.Unlock()
	}()

	if !s.planPhase(ctx, m, r) {
		return
	}

	for {
		if r.aborted() {
			s.fail(ctx, m, r, mission.ReasonAborted, "mission aborted by client")
			return
		}

		step := m.NextStep()
		if step == nil {
			if m.AllStepsCompleted() {
				s.complete(ctx, m, r)
			} else {
				s.fail(ctx, m, r, mission.ReasonStepFailed, "plan has unrunnable steps")
			}
			return
		}

		// Budget is checked before each step starts, never mid-step.
		if m.BudgetExhausted() {
			s.fail(ctx, m, r, mission.ReasonBudgetExceeded,
				fmt.Sprintf("budget exhausted: spent $%.2f of $%.2f", m.BudgetSpentUSD, m.BudgetLimitUSD))
			return
		}

		if err := s.runStep(ctx, m, r, step); err != nil {
			if r.aborted() {
				s.fail(ctx, m, r, mission.ReasonAborted, "mission aborted by client")
				return
			}
			step.Status = mission.StepFailed
			step.Error = err.Error()
			s.persist(ctx, m)
			s.fail(ctx, m, r, mission.ReasonStepFailed, fmt.Sprintf("step %s failed: %v", step.ID, err))
			return
		}

		if step.Checkpoint {
			if !s.checkpointPhase(ctx, m, r, step) {
				return
			}
		}
	}
}

// planPhase generates and publishes the plan. Returns false when the
// mission reached a terminal state.
func (s *MissionService) planPhase(ctx context.Context, m *mission.Mission, r *missionRun) bool {
	if err := m.Transition(mission.StatusPlanning); err != nil {
		slog.Error("mission transition failed", "mission_id", m.ID, "error", err)
		return false
	}
	s.persist(ctx, m)

	pctx, cancel := context.WithCancel(ctx)
	r.setCancel(cancel)
	steps, usage, err := s.planner.Plan(pctx, m.Objective, m.Profile)
	cancel()
	r.setCancel(nil)

	s.charge(ctx, m, "", s.planner.cfg.PlannerModel, usage)

	if err != nil {
		if r.aborted() {
			s.fail(ctx, m, r, mission.ReasonAborted, "mission aborted by client")
		} else {
			s.fail(ctx, m, r, mission.ReasonPlanningFailed, fmt.Sprintf("planning failed: %v", err))
		}
		return false
	}

	m.Plan = steps
	if err := m.Transition(mission.StatusRunning); err != nil {
		slog.Error("mission transition failed", "mission_id", m.ID, "error", err)
		return false
	}
	s.persist(ctx, m)

	s.publish(ctx, m, r, event.TypePlan, event.PlanPayload{Steps: steps})
	s.publishCost(ctx, m, r)
	return true
}

// runStep executes one plan step as a panel consultation.
func (s *MissionService) runStep(ctx context.Context, m *mission.Mission, r *missionRun, step *mission.PlanStep) error {
	now := time.Now()
	step.Status = mission.StepRunning
	step.StartedAt = &now
	s.persist(ctx, m)
	s.publish(ctx, m, r, event.TypeProgress, event.ProgressPayload{
		StepID: step.ID, Name: step.Name, Status: mission.StepRunning, Percent: s.percent(m),
	})

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.setCancel(cancel)
	defer r.setCancel(nil)

	prompt := fmt.Sprintf("Mission objective: %s\n\nCurrent step: %s\n%s", m.Objective, step.Name, step.Description)
	res := s.classifier.Classify(step.Name + " " + step.Description)

	panel, err := s.selector.SelectPanel(stepCtx, res, step.DelegateTier, s.panelSize(m.Profile))
	if err != nil {
		return err
	}

	ids := make([]string, len(panel))
	for i, p := range panel {
		ids[i] = p.Profile.ID
	}
	s.publish(ctx, m, r, event.TypeReasoning, event.ReasoningPayload{
		Text: fmt.Sprintf("Delegating %q to %d agent(s)", step.Name, len(panel)),
	})

	contexts := s.retrieval.Gather(stepCtx, prompt, ids)

	results, err := s.executor.Execute(stepCtx, prompt, panel, contexts)
	for _, ar := range results {
		if ar.Status == consult.StatusSuccess {
			s.charge(ctx, m, ar.AgentID, panelModel(panel, ar.AgentID), ar.Usage)
		}
	}
	if err != nil {
		return err
	}

	synth, err := s.synthesis.Synthesize(stepCtx, prompt, results)
	if err != nil {
		return err
	}
	s.charge(ctx, m, "", s.synthesis.cfg.Model, synth.Usage)

	citations := make([]mission.Citation, 0, len(contexts))
	for _, c := range contexts {
		citations = append(citations, mission.Citation{SourceID: c.SourceID, Title: c.Title})
	}
	artifact := mission.Artifact{
		StepID:    step.ID,
		Title:     step.Name,
		Content:   synth.Content,
		CreatedAt: time.Now(),
	}
	m.AddArtifact(artifact)
	m.AddCitations(citations)

	done := time.Now()
	step.Status = mission.StepCompleted
	step.CompletedAt = &done
	step.Error = ""
	s.persist(ctx, m)
	if s.metrics != nil {
		s.metrics.MissionStepsCompleted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("profile", string(m.Profile)),
		))
	}

	s.publish(ctx, m, r, event.TypeArtifact, event.ArtifactPayload{Artifact: artifact, Citations: citations})
	s.publish(ctx, m, r, event.TypeProgress, event.ProgressPayload{
		StepID: step.ID, Name: step.Name, Status: mission.StepCompleted, Percent: s.percent(m),
	})
	s.publishCost(ctx, m, r)
	return nil
}

// checkpointPhase suspends the mission on a decision point and blocks until
// a valid response, an abort, or TTL expiry. Returns false when the mission
// reached a terminal state.
func (s *MissionService) checkpointPhase(ctx context.Context, m *mission.Mission, r *missionRun, step *mission.PlanStep) bool {
	cp := &mission.Checkpoint{
		ID:    uuid.NewString(),
		Type:  "step_review",
		Title: fmt.Sprintf("Review %q before continuing", step.Name),
		Options: []mission.CheckpointOption{
			{ID: CheckpointApprove, Label: "Approve and continue"},
			{ID: CheckpointRevise, Label: "Revise this step"},
			{ID: CheckpointAbort, Label: "Abort the mission"},
		},
		CreatedAt: time.Now(),
	}
	if err := m.AttachCheckpoint(cp); err != nil {
		slog.Error("attach checkpoint failed", "mission_id", m.ID, "error", err)
		return true
	}
	s.persist(ctx, m)
	s.publish(ctx, m, r, event.TypeCheckpoint, event.CheckpointPayload{Checkpoint: *cp})

	for {
		select {
		case reply := <-r.respond:
			opt, err := m.ResolveCheckpoint(reply.checkpointID, reply.optionID)
			reply.result <- err
			if err != nil {
				continue // rejected responses leave the checkpoint standing
			}
			s.persist(ctx, m)

			switch opt.ID {
			case CheckpointRevise:
				step.Status = mission.StepPending
				step.StartedAt = nil
				step.CompletedAt = nil
				s.persist(ctx, m)
				s.publish(ctx, m, r, event.TypeReasoning, event.ReasoningPayload{
					Text: fmt.Sprintf("Revision requested; re-running %q", step.Name),
				})
			case CheckpointAbort:
				s.fail(ctx, m, r, mission.ReasonAborted, "aborted at checkpoint")
				return false
			}
			return true

		case <-r.abort:
			// Leave awaiting_checkpoint via the failure edge.
			s.fail(ctx, m, r, mission.ReasonAborted, "mission aborted by client")
			return false

		case <-r.expired:
			s.fail(ctx, m, r, mission.ReasonCheckpointTimeout,
				fmt.Sprintf("checkpoint unanswered for %s", s.cfg.CheckpointTTL))
			return false
		}
	}
}

func (s *MissionService) complete(ctx context.Context, m *mission.Mission, r *missionRun) {
	if err := m.Transition(mission.StatusCompleted); err != nil {
		slog.Error("mission transition failed", "mission_id", m.ID, "error", err)
		return
	}
	s.persist(ctx, m)

	s.publish(ctx, m, r, event.TypeDone, event.DonePayload{
		Content:     finalSummary(m),
		TotalAgents: len(m.Plan),
	})
	s.broadcastUpdate(ctx, m)
	slog.Info("mission completed", "mission_id", m.ID, "spent_usd", m.BudgetSpentUSD)
}

func (s *MissionService) fail(ctx context.Context, m *mission.Mission, r *missionRun, reason mission.FailReason, msg string) {
	m.Checkpoint = nil
	if err := m.Fail(reason); err != nil {
		slog.Error("mission fail transition rejected", "mission_id", m.ID, "reason", reason, "error", err)
		return
	}
	s.persist(ctx, m)

	s.publish(ctx, m, r, event.TypeError, event.ErrorPayload{Code: string(reason), Message: msg})
	s.broadcastUpdate(ctx, m)
	slog.Warn("mission failed", "mission_id", m.ID, "reason", reason, "spent_usd", m.BudgetSpentUSD)
}

// --- helpers ---

// publish appends an event to the durable stream and mirrors it to live
// clients. Sequence numbers are per-mission and strictly increasing.
func (s *MissionService) publish(ctx context.Context, m *mission.Mission, r *missionRun, t event.Type, payload any) {
	ev := event.New(t, payload)
	ev.Seq = r.seq.Add(1)
	ev.MissionID = m.ID

	if err := s.events.Append(ctx, m.ID, &ev); err != nil {
		slog.Error("append mission event failed", "mission_id", m.ID, "type", t, "error", err)
	}
	s.broadcaster.BroadcastEvent(ctx, broadcast.EventStream, ev)

	if s.queue != nil {
		if data, err := json.Marshal(ev); err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectMissionEvents+"."+m.ID, data); err != nil {
				slog.Warn("mirror mission event to queue failed", "mission_id", m.ID, "type", t, "error", err)
			}
		}
	}
}

// StartAbortSubscriber accepts abort requests over the queue, so workers
// and operator tooling can stop a mission without going through HTTP. The
// returned function cancels the subscription.
func (s *MissionService) StartAbortSubscriber(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectMissionAbort, func(msgCtx context.Context, _ string, data []byte) error {
		var p messagequeue.MissionAbortPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode mission abort: %w", err)
		}
		if err := s.Abort(msgCtx, p.MissionID); err != nil {
			slog.Warn("abort via queue failed", "mission_id", p.MissionID, "reason", p.Reason, "error", err)
		}
		return nil
	})
}

func (s *MissionService) publishCost(ctx context.Context, m *mission.Mission, r *missionRun) {
	s.publish(ctx, m, r, event.TypeCost, event.CostPayload{
		SpentUSD:  m.BudgetSpentUSD,
		BudgetUSD: m.BudgetLimitUSD,
	})
}

// charge adds usage to the mission's spend and the durable cost ledger.
// Only successful work reaches here, so spend is monotonic.
func (s *MissionService) charge(ctx context.Context, m *mission.Mission, agentID, model string, usage consult.TokenUsage) {
	if usage == (consult.TokenUsage{}) {
		return
	}
	m.Spend(usage.CostUSD)
	s.cost.Record(ctx, m.ConversationID, m.ID, agentID, model, usage)
}

func (s *MissionService) persist(ctx context.Context, m *mission.Mission) {
	if err := s.store.UpdateMission(ctx, m); err != nil {
		slog.Error("persist mission failed", "mission_id", m.ID, "status", m.Status, "error", err)
	}
}

func (s *MissionService) broadcastUpdate(ctx context.Context, m *mission.Mission) {
	s.broadcaster.BroadcastEvent(ctx, broadcast.EventMissionUpdate, broadcast.MissionUpdateEvent{
		MissionID:  m.ID,
		Status:     string(m.Status),
		FailReason: string(m.FailReason),
		SpentUSD:   m.BudgetSpentUSD,
	})
}

func (s *MissionService) percent(m *mission.Mission) int {
	if len(m.Plan) == 0 {
		return 0
	}
	completed := 0
	for i := range m.Plan {
		if m.Plan[i].Status == mission.StepCompleted {
			completed++
		}
	}
	return completed * 100 / len(m.Plan)
}

func (s *MissionService) panelSize(p mission.Profile) int {
	switch p {
	case mission.ProfileRapid:
		return 1
	case mission.ProfileDeep:
		return 3
	default:
		return 2
	}
}

func panelModel(panel []agent.Ranked, agentID string) string {
	for _, r := range panel {
		if r.Profile.ID == agentID {
			return r.Profile.Model
		}
	}
	return ""
}

// finalSummary stitches the artifact titles into the done payload.
func finalSummary(m *mission.Mission) string {
	if len(m.Artifacts) == 0 {
		return "Mission completed with no artifacts."
	}
	last := m.Artifacts[len(m.Artifacts)-1]
	return last.Content
}
