package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CivicSim/CS-Gateway/internal/backend"
	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/CivicSim/CS-Gateway/internal/geo"
	"github.com/CivicSim/CS-Gateway/internal/scenario"
	"github.com/CivicSim/CS-Gateway/internal/session"
)

// fakeBackend scripts job status sequences per job id and records adoption
// calls. No real network involved.
type fakeBackend struct {
	mu         sync.Mutex
	created    int
	createErr  error
	sequences  map[string][]backend.JobStatus
	calls      map[string]int
	jobCtx     context.Context
	adoptErr   error
	adoptCalls int
	adoptBlock chan struct{}
	chatResult *backend.AIResult
	chatErr    error
	edges      []civic.RelationshipEdge
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sequences: map[string][]backend.JobStatus{},
		calls:     map[string]int{},
	}
}

func (f *fakeBackend) CreateSimulationJob(ctx context.Context, req backend.AIRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobCtx = ctx
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return fmt.Sprintf("job-%d", f.created), nil
}

func (f *fakeBackend) GetSimulationJob(ctx context.Context, jobID string) (*backend.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.sequences[jobID]
	if len(seq) == 0 {
		return &backend.JobStatus{JobID: jobID, Status: backend.JobRunning}, nil
	}
	i := f.calls[jobID]
	if i >= len(seq) {
		i = len(seq) - 1
	} else {
		f.calls[jobID]++
	}
	st := seq[i]
	st.JobID = jobID
	return &st, nil
}

func (f *fakeBackend) Adopt(ctx context.Context, req backend.AdoptRequest) error {
	f.mu.Lock()
	block := f.adoptBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adoptErr != nil {
		return f.adoptErr
	}
	f.adoptCalls++
	return nil
}

func (f *fakeBackend) Chat(ctx context.Context, req backend.AIRequest) (*backend.AIResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatResult, f.chatErr
}

func (f *fakeBackend) Relationships(ctx context.Context, sessionID string) ([]civic.RelationshipEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edges, nil
}

func (f *fakeBackend) adoptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adoptCalls
}

func (f *fakeBackend) lastJobCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobCtx
}

// sampleResult is the 4 support / 2 oppose / 1 neutral fixture used across
// the promotion tests.
func sampleResult() *backend.AIResult {
	mk := func(key, stance string, intensity float64) civic.AgentReaction {
		return civic.AgentReaction{
			AgentKey: key, AgentName: key, Stance: stance,
			Intensity: intensity, Quote: "quote from " + key,
		}
	}
	return &backend.AIResult{
		Reply: "The neighbourhood weighs in.",
		Interpreted: civic.InterpretedProposal{
			Type: "park", Title: "Riverside Park", Summary: "A new park downtown",
		},
		Reactions: []civic.AgentReaction{
			mk("downtown", civic.StanceSupport, 0.9),
			mk("williamsville", civic.StanceSupport, 0.7),
			mk("portsmouth", civic.StanceSupport, 0.6),
			mk("kingscourt", civic.StanceSupport, 0.4),
			mk("queens", civic.StanceOppose, 0.8),
			mk("eastview", civic.StanceOppose, 0.5),
			mk("harbor", civic.StanceNeutral, 0.1),
		},
		Zones: []civic.ZoneSentiment{
			{ZoneID: "downtown", Score: 0.8},
			{ZoneID: "queens", Score: -0.6},
		},
		TownHall: []civic.TownHallTurn{{Speaker: "Moderator", Text: "Order, please."}},
	}
}

func startEngine(t *testing.T, f *fakeBackend) *session.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eng := session.New("sess-1", scenario.Kingston(), f, nil)
	eng.PollInterval = 2 * time.Millisecond
	go eng.Run(ctx)
	return eng
}

// waitFor polls snapshots until cond holds or the deadline passes.
func waitFor(t *testing.T, eng *session.Engine, cond func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := eng.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap, _ := eng.Snapshot(context.Background())
	t.Fatalf("condition not reached; final state: job=%+v", snap.Job)
	return snap
}

func spatialProposal() civic.Proposal {
	return civic.Proposal{
		Kind:     civic.ProposalSpatial,
		Type:     "park",
		Location: &geo.Point{Lat: 44.2312, Lng: -76.4860},
		RadiusKM: 0.5,
	}
}

// TestPlace_SnapsAndResolvesZone verifies a drop inside downtown gets
// snapped to the grid and bound to the downtown zone.
func TestPlace_SnapsAndResolvesZone(t *testing.T) {
	eng := startEngine(t, newFakeBackend())

	item, err := eng.Place(context.Background(), spatialProposal())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if item.ZoneID != "downtown" {
		t.Errorf("expected downtown zone, got %q", item.ZoneID)
	}
	if item.Title == "" || item.ID == "" {
		t.Errorf("expected derived title and id, got %+v", item)
	}

	snap, _ := eng.Snapshot(context.Background())
	if len(snap.PlacedItems) != 1 {
		t.Errorf("expected 1 placed item, got %d", len(snap.PlacedItems))
	}
	if snap.WorldVersion != 1 {
		t.Errorf("expected world version bump to 1, got %d", snap.WorldVersion)
	}
}

// TestPlace_CapTen verifies the 11th drop is rejected and state unchanged.
func TestPlace_CapTen(t *testing.T) {
	eng := startEngine(t, newFakeBackend())

	for i := 0; i < 10; i++ {
		if _, err := eng.Place(context.Background(), spatialProposal()); err != nil {
			t.Fatalf("place %d: %v", i, err)
		}
	}

	before, _ := eng.Snapshot(context.Background())
	_, err := eng.Place(context.Background(), spatialProposal())
	if !errors.Is(err, session.ErrPlacementLimit) {
		t.Fatalf("expected ErrPlacementLimit, got %v", err)
	}
	after, _ := eng.Snapshot(context.Background())

	if len(after.PlacedItems) != 10 {
		t.Errorf("expected 10 items after rejected drop, got %d", len(after.PlacedItems))
	}
	if after.WorldVersion != before.WorldVersion {
		t.Errorf("rejected drop must not bump world version")
	}
}

// TestStartSimulation_ProgressAndCompletion runs one scripted job through
// running-with-partials to completion and checks the incremental merge.
func TestStartSimulation_ProgressAndCompletion(t *testing.T) {
	f := newFakeBackend()
	f.sequences["job-1"] = []backend.JobStatus{
		{Status: backend.JobRunning, Progress: 0.3, Phase: "agents", CompletedAgents: 2, TotalAgents: 7,
			PartialReactions: sampleResult().Reactions[:2],
			PartialZones:     []civic.ZoneSentiment{{ZoneID: "downtown", Score: 0.5}}},
		{Status: backend.JobComplete, Progress: 1, Result: sampleResult()},
	}
	eng := startEngine(t, f)

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "add a park downtown"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := waitFor(t, eng, func(s session.Snapshot) bool { return s.Job.Status == session.JobComplete })

	if len(snap.Reactions) != 7 {
		t.Errorf("expected 7 merged reactions, got %d", len(snap.Reactions))
	}
	if snap.Zones["downtown"].Score != 0.8 {
		t.Errorf("expected final downtown score 0.8, got %f", snap.Zones["downtown"].Score)
	}
	if len(snap.Feed) != 1 {
		t.Fatalf("expected 1 feed item, got %d", len(snap.Feed))
	}
	feed := snap.Feed[0]
	if feed.Tally.AgreementPct != 67 || !feed.CanPromote {
		t.Errorf("expected 67%% promotable tally, got %+v", feed.Tally)
	}
	if feed.IsPromoted {
		t.Errorf("fresh feed item must not be promoted")
	}
	// user message + assistant reply
	if len(snap.Conversation) != 2 || snap.Conversation[1].Role != "assistant" {
		t.Errorf("unexpected conversation: %+v", snap.Conversation)
	}
	if snap.Interpreted == nil || snap.Interpreted.Title != "Riverside Park" {
		t.Errorf("interpreted proposal not copied: %+v", snap.Interpreted)
	}
	if len(snap.TownHall) != 1 {
		t.Errorf("town hall not copied")
	}
}

// TestStartSimulation_SecondStartSupersedes verifies that starting again
// while a job is in flight leaves exactly one job id referenced, with the
// first job's late responses discarded.
func TestStartSimulation_SecondStartSupersedes(t *testing.T) {
	f := newFakeBackend()
	// job-1 never finishes; job-2 completes immediately.
	f.sequences["job-1"] = []backend.JobStatus{{Status: backend.JobRunning, Progress: 0.1}}
	f.sequences["job-2"] = []backend.JobStatus{{Status: backend.JobComplete, Progress: 1, Result: sampleResult()}}
	eng := startEngine(t, f)

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "first"}); err != nil {
		t.Fatalf("start 1: %v", err)
	}
	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "second"}); err != nil {
		t.Fatalf("start 2: %v", err)
	}

	snap := waitFor(t, eng, func(s session.Snapshot) bool { return s.Job.Status == session.JobComplete })
	if snap.Job.ID != "job-2" {
		t.Errorf("expected job-2 to own final state, got %q", snap.Job.ID)
	}

	// Give any straggling job-1 responses time to arrive; they must not
	// clobber the completed state.
	time.Sleep(20 * time.Millisecond)
	snap, _ = eng.Snapshot(context.Background())
	if snap.Job.Status != session.JobComplete || snap.Job.ID != "job-2" {
		t.Errorf("stale job overwrote state: %+v", snap.Job)
	}
}

// TestCancel returns the machine to idle and keeps it there even though the
// poller may have a response in flight.
func TestCancel(t *testing.T) {
	f := newFakeBackend() // default sequence: running forever
	eng := startEngine(t, f)

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "long run"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, eng, func(s session.Snapshot) bool { return s.Job.Status == session.JobRunning })

	if err := eng.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	snap, _ := eng.Snapshot(context.Background())
	if snap.Job.Status != session.JobIdle {
		t.Fatalf("expected idle after cancel, got %q", snap.Job.Status)
	}

	time.Sleep(20 * time.Millisecond)
	snap, _ = eng.Snapshot(context.Background())
	if snap.Job.Status != session.JobIdle {
		t.Errorf("late poll resurrected cancelled job: %+v", snap.Job)
	}
}

// TestJobError_ClarificationDisplay verifies the clarification-style error
// renders with the lens prefix and a hard failure with the cross.
func TestJobError_ClarificationDisplay(t *testing.T) {
	f := newFakeBackend()
	f.sequences["job-1"] = []backend.JobStatus{
		{Status: backend.JobError, Error: "Needs clarification: radius too large"},
	}
	eng := startEngine(t, f)

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "vague plan"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitFor(t, eng, func(s session.Snapshot) bool { return s.Job.Status == session.JobError })

	if snap.Job.ErrorKind != backend.KindClarificationNeeded {
		t.Errorf("expected clarification kind, got %q", snap.Job.ErrorKind)
	}
	if !strings.HasPrefix(snap.Job.DisplayError(), "🔍") {
		t.Errorf("expected lens prefix, got %q", snap.Job.DisplayError())
	}

	generic := session.JobState{Status: session.JobError, Error: "model exploded", ErrorKind: backend.KindInternal}
	if !strings.HasPrefix(generic.DisplayError(), "❌") {
		t.Errorf("expected cross prefix for generic error, got %q", generic.DisplayError())
	}
}

// TestStartSimulation_CreateFailure surfaces the creation error as job
// error state instead of silently idling.
func TestStartSimulation_CreateFailure(t *testing.T) {
	f := newFakeBackend()
	f.createErr = &backend.ServiceUnavailableError{Detail: "ollama down"}
	eng := startEngine(t, f)

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "hi"}); err != nil {
		t.Fatalf("start itself must not fail: %v", err)
	}
	snap := waitFor(t, eng, func(s session.Snapshot) bool { return s.Job.Status == session.JobError })
	if snap.Job.ErrorKind != backend.KindUpstreamUnavailable {
		t.Errorf("expected upstream_unavailable, got %q", snap.Job.ErrorKind)
	}
}

func TestStartSimulation_EmptyMessage(t *testing.T) {
	f := newFakeBackend()
	eng := startEngine(t, f)

	err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "   "})
	if !errors.Is(err, session.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if f.created != 0 {
		t.Errorf("validation failure must not reach the backend")
	}
}

// runToFeed is shared setup: run one simulation to completion and return
// the feed item id.
func runToFeed(t *testing.T, eng *session.Engine, f *fakeBackend) string {
	t.Helper()
	f.mu.Lock()
	f.sequences[fmt.Sprintf("job-%d", f.created+1)] = []backend.JobStatus{
		{Status: backend.JobComplete, Progress: 1, Result: sampleResult()},
	}
	f.mu.Unlock()

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "simulate"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitFor(t, eng, func(s session.Snapshot) bool { return len(s.Feed) > 0 && s.Job.Status == session.JobComplete })
	return snap.Feed[len(snap.Feed)-1].ID
}

// TestPromote_Idempotent verifies a feed item can be adopted at most once
// no matter how many promote calls race in.
func TestPromote_Idempotent(t *testing.T) {
	f := newFakeBackend()
	eng := startEngine(t, f)
	feedID := runToFeed(t, eng, f)

	for i := 0; i < 3; i++ {
		if err := eng.Promote(context.Background(), feedID); err != nil {
			t.Fatalf("promote %d: %v", i, err)
		}
	}

	snap, _ := eng.Snapshot(context.Background())
	if len(snap.Adopted) != 1 {
		t.Fatalf("expected exactly 1 adopted policy, got %d", len(snap.Adopted))
	}
	if snap.Adopted[0].OriginProposalID != feedID {
		t.Errorf("origin id mismatch: %+v", snap.Adopted[0])
	}
	if snap.Adopted[0].Outcome != "adopted" {
		t.Errorf("expected adopted outcome, got %q", snap.Adopted[0].Outcome)
	}
	if f.adoptCount() != 1 {
		t.Errorf("expected 1 backend adopt call, got %d", f.adoptCount())
	}
	if !snap.Feed[len(snap.Feed)-1].IsPromoted {
		t.Errorf("feed item not marked promoted")
	}
	if len(snap.Adopted[0].KeyQuotes) == 0 || len(snap.Adopted[0].KeyQuotes) > 4 {
		t.Errorf("expected 1..4 key quotes, got %d", len(snap.Adopted[0].KeyQuotes))
	}
	if len(snap.Adopted[0].ZoneDeltas) == 0 || len(snap.Adopted[0].ZoneDeltas) > 3 {
		t.Errorf("expected 1..3 zone deltas, got %d", len(snap.Adopted[0].ZoneDeltas))
	}
}

// TestForce_SkipsThreshold verifies the admin override adopts an item that
// failed its vote.
func TestForce_SkipsThreshold(t *testing.T) {
	f := newFakeBackend()
	res := sampleResult()
	// Flip to mostly opposition: 2 support / 4 oppose / 1 neutral.
	for i := range res.Reactions[:4] {
		res.Reactions[i].Stance = civic.StanceOppose
	}
	res.Reactions[4].Stance = civic.StanceSupport
	res.Reactions[5].Stance = civic.StanceSupport
	f.sequences["job-1"] = []backend.JobStatus{{Status: backend.JobComplete, Progress: 1, Result: res}}
	eng := startEngine(t, f)

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "unpopular plan"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitFor(t, eng, func(s session.Snapshot) bool { return len(s.Feed) > 0 })
	feedID := snap.Feed[0].ID

	if err := eng.Promote(context.Background(), feedID); !errors.Is(err, session.ErrBelowThreshold) {
		t.Fatalf("expected ErrBelowThreshold, got %v", err)
	}
	if err := eng.Force(context.Background(), feedID); err != nil {
		t.Fatalf("force: %v", err)
	}

	snap, _ = eng.Snapshot(context.Background())
	if len(snap.Adopted) != 1 || snap.Adopted[0].Outcome != "forced" {
		t.Errorf("expected one forced adoption, got %+v", snap.Adopted)
	}
}

// TestAdoptionError lands as a dismissible banner, not a crash, and clears.
func TestAdoptionError(t *testing.T) {
	f := newFakeBackend()
	eng := startEngine(t, f)
	feedID := runToFeed(t, eng, f)

	f.mu.Lock()
	f.adoptErr = errors.New("memory service timeout")
	f.mu.Unlock()

	if err := eng.Promote(context.Background(), feedID); err == nil {
		t.Fatal("expected promote to report the failure")
	}

	snap, _ := eng.Snapshot(context.Background())
	if snap.AdoptionError == "" {
		t.Fatal("expected adoption error banner text")
	}
	if len(snap.Adopted) != 0 {
		t.Errorf("failed adoption must not append a policy")
	}

	if err := eng.ClearAdoptionError(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	snap, _ = eng.Snapshot(context.Background())
	if snap.AdoptionError != "" {
		t.Errorf("banner not cleared")
	}
}

// TestRefreshRelationships_BeforeRunStarts verifies a refresh requested
// before the run loop is scheduled queues safely instead of touching the
// backend from an engine that has no base context yet.
func TestRefreshRelationships_BeforeRunStarts(t *testing.T) {
	f := newFakeBackend()
	f.edges = []civic.RelationshipEdge{{From: "downtown", To: "queens", Score: -0.4}}

	eng := session.New("sess-1", scenario.Kingston(), f, nil)
	if err := eng.RefreshRelationships(context.Background()); err != nil {
		t.Fatalf("refresh before run: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	snap := waitFor(t, eng, func(s session.Snapshot) bool { return len(s.Relationships) == 1 })
	if snap.Relationships[0].From != "downtown" {
		t.Errorf("unexpected edge: %+v", snap.Relationships[0])
	}
}

// TestJobContext_ReleasedOnTerminal verifies the per-job context is
// cancelled once the job reaches a terminal state, so finished jobs do not
// stay registered on the engine's base context.
func TestJobContext_ReleasedOnTerminal(t *testing.T) {
	f := newFakeBackend()
	f.sequences["job-1"] = []backend.JobStatus{{Status: backend.JobComplete, Progress: 1, Result: sampleResult()}}
	eng := startEngine(t, f)

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "park"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, eng, func(s session.Snapshot) bool { return s.Job.Status == session.JobComplete })

	select {
	case <-f.lastJobCtx().Done():
	default:
		t.Error("job context still live after completion")
	}

	// Same for the failure path.
	f2 := newFakeBackend()
	f2.sequences["job-1"] = []backend.JobStatus{{Status: backend.JobError, Error: "model exploded"}}
	eng2 := startEngine(t, f2)

	if err := eng2.StartSimulation(context.Background(), session.StartRequest{Message: "park"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, eng2, func(s session.Snapshot) bool { return s.Job.Status == session.JobError })

	select {
	case <-f2.lastJobCtx().Done():
	default:
		t.Error("job context still live after failure")
	}
}

// TestPromote_ConcurrentCallsSingleRPC verifies two promotes racing ahead of
// the adoption result still produce exactly one backend Adopt call.
func TestPromote_ConcurrentCallsSingleRPC(t *testing.T) {
	f := newFakeBackend()
	f.adoptBlock = make(chan struct{})
	eng := startEngine(t, f)
	feedID := runToFeed(t, eng, f)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- eng.Promote(context.Background(), feedID) }()
	}

	// Both promotes must reach the engine while the first Adopt is stalled.
	time.Sleep(10 * time.Millisecond)
	close(f.adoptBlock)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("promote %d: %v", i, err)
		}
	}

	snap, _ := eng.Snapshot(context.Background())
	if len(snap.Adopted) != 1 {
		t.Fatalf("expected exactly 1 adopted policy, got %d", len(snap.Adopted))
	}
	if f.adoptCount() != 1 {
		t.Errorf("expected 1 backend adopt call, got %d", f.adoptCount())
	}
}

// TestChat_SyncPath exercises the non-progressive simulation.
func TestChat_SyncPath(t *testing.T) {
	f := newFakeBackend()
	f.chatResult = sampleResult()
	eng := startEngine(t, f)

	if err := eng.Chat(context.Background(), session.StartRequest{Message: "what do people think?"}); err != nil {
		t.Fatalf("chat: %v", err)
	}

	snap, _ := eng.Snapshot(context.Background())
	if snap.Job.Status != session.JobComplete {
		t.Errorf("expected complete after sync chat, got %q", snap.Job.Status)
	}
	if len(snap.Feed) != 1 {
		t.Errorf("expected feed entry from chat result")
	}
}

// TestSubscribe_ReceivesJobEvents verifies the event stream sees the job
// lifecycle.
func TestSubscribe_ReceivesJobEvents(t *testing.T) {
	f := newFakeBackend()
	f.sequences["job-1"] = []backend.JobStatus{
		{Status: backend.JobRunning, Progress: 0.5, PartialReactions: sampleResult().Reactions[:1]},
		{Status: backend.JobComplete, Progress: 1, Result: sampleResult()},
	}
	eng := startEngine(t, f)

	events, cancel := eng.Subscribe()
	defer cancel()

	if err := eng.StartSimulation(context.Background(), session.StartRequest{Message: "park"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[session.EventJobComplete] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("timed out; saw %v", seen)
		}
	}
	if !seen[session.EventJobStarted] {
		t.Errorf("missing job_started event")
	}
	if !seen[session.EventPartialMerge] {
		t.Errorf("missing partial_merge event")
	}
}
