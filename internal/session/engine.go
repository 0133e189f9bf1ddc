package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/CivicSim/CS-Gateway/internal/backend"
	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/CivicSim/CS-Gateway/internal/geo"
	"github.com/CivicSim/CS-Gateway/internal/scenario"
	"github.com/google/uuid"
)

// Validation and state errors surfaced before any network call.
var (
	ErrPlacementLimit  = errors.New("placement limit reached (10 items)")
	ErrNotSpatial      = errors.New("only spatial proposals can be placed")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrUnknownFeedItem = errors.New("feed item not found")
	ErrBelowThreshold  = errors.New("proposal has not cleared the vote threshold")
	ErrEngineStopped   = errors.New("session engine stopped")
)

// Backend is the slice of the backend client the engine drives. Narrowed to
// an interface so tests can substitute a fake.
type Backend interface {
	Chat(ctx context.Context, req backend.AIRequest) (*backend.AIResult, error)
	CreateSimulationJob(ctx context.Context, req backend.AIRequest) (string, error)
	GetSimulationJob(ctx context.Context, jobID string) (*backend.JobStatus, error)
	Adopt(ctx context.Context, req backend.AdoptRequest) error
	Relationships(ctx context.Context, sessionID string) ([]civic.RelationshipEdge, error)
}

// Store persists the two pieces of session state that survive reloads:
// conversation history and the auto-simulate flag. May be nil, in which case
// the session is purely in-memory.
type Store interface {
	AppendChat(sessionID string, entry civic.ChatEntry) error
	Conversation(sessionID string) ([]civic.ChatEntry, error)
	SetAutoSimulate(sessionID string, on bool) error
	AutoSimulate(sessionID string) (bool, error)
}

// Engine owns all mutable state of one UI session. It is an actor: a single
// run-loop goroutine consumes typed commands and is the only writer, so no
// two mutations ever interleave. Async work (job polling, adoption calls)
// runs in worker goroutines that report back by posting commands, and every
// job-scoped result carries an epoch that is checked before merging. A
// response from a superseded job is discarded, never applied.
type Engine struct {
	sessionID  string
	scenarioID string
	scn        *scenario.Scenario
	conv       geo.Converter
	backend    Backend
	store      Store

	// PollInterval is the progressive-job polling period. Set before Run;
	// defaults to 1.5s.
	PollInterval time.Duration

	cmds    chan command
	stopped chan struct{}
	baseCtx context.Context

	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// command is applied on the run loop, the only goroutine that may touch
// state.
type command interface {
	apply(e *Engine, s *state)
}

// New creates a session engine. Call Run on its own goroutine before using
// any operation.
func New(sessionID string, scn *scenario.Scenario, b Backend, st Store) *Engine {
	return &Engine{
		sessionID:    sessionID,
		scenarioID:   scn.ID,
		scn:          scn,
		conv:         scn.Converter(),
		backend:      b,
		store:        st,
		PollInterval: 1500 * time.Millisecond,
		cmds:         make(chan command, 32),
		stopped:      make(chan struct{}),
		subs:         map[int]chan Event{},
	}
}

// SessionID returns the id the engine was created with.
func (e *Engine) SessionID() string { return e.sessionID }

// Run processes commands until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.baseCtx = ctx
	s := newState()
	e.loadPersisted(s)

	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			s.releaseJob()
			return
		case cmd := <-e.cmds:
			cmd.apply(e, s)
		}
	}
}

func (e *Engine) loadPersisted(s *state) {
	if e.store == nil {
		return
	}
	if conv, err := e.store.Conversation(e.sessionID); err != nil {
		log.Printf("[session %s] load conversation: %v", e.sessionID, err)
	} else {
		s.conversation = conv
	}
	if auto, err := e.store.AutoSimulate(e.sessionID); err != nil {
		log.Printf("[session %s] load settings: %v", e.sessionID, err)
	} else {
		s.autoSimulate = auto
	}
}

// post submits a command to the run loop.
func (e *Engine) post(ctx context.Context, cmd command) error {
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers an event listener. The returned cancel func must be
// called when the listener goes away. Slow listeners drop events rather
// than stalling the engine.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan Event, 16)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// --- snapshot ---

type snapshotCmd struct {
	reply chan Snapshot
}

func (c snapshotCmd) apply(e *Engine, s *state) {
	c.reply <- s.snapshot(e.sessionID)
}

// Snapshot returns a consistent copy of current session state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := e.post(ctx, snapshotCmd{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// --- proposal ---

type setProposalCmd struct {
	proposal civic.Proposal
	reply    chan error
}

func (c setProposalCmd) apply(e *Engine, s *state) {
	p := c.proposal
	if p.Title == "" {
		p.Title = deriveTitle(p.Type)
	}
	s.proposal = &p
	c.reply <- nil
}

// SetProposal stages a draft proposal as the session's active one.
func (e *Engine) SetProposal(ctx context.Context, p civic.Proposal) error {
	if err := validateProposal(p); err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := e.post(ctx, setProposalCmd{proposal: p, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

type clearProposalCmd struct{}

func (clearProposalCmd) apply(e *Engine, s *state) { s.proposal = nil }

// ClearProposal drops the active draft proposal.
func (e *Engine) ClearProposal(ctx context.Context) error {
	return e.post(ctx, clearProposalCmd{})
}

func validateProposal(p civic.Proposal) error {
	switch p.Kind {
	case civic.ProposalSpatial:
		if p.Location == nil {
			return errors.New("spatial proposal needs a location")
		}
		if p.RadiusKM <= 0 {
			return errors.New("spatial proposal needs a positive radius")
		}
	case civic.ProposalCitywide:
		if p.Percentage == 0 && p.Amount == 0 {
			return errors.New("citywide proposal needs a percentage or amount")
		}
	default:
		return fmt.Errorf("unknown proposal kind %q", p.Kind)
	}
	if p.Type == "" {
		return errors.New("proposal type is required")
	}
	return nil
}

// --- placement ---

type placeCmd struct {
	proposal civic.Proposal
	reply    chan placeReply
}

type placeReply struct {
	item civic.PlacedItem
	err  error
}

func (c placeCmd) apply(e *Engine, s *state) {
	if len(s.placed) >= MaxPlacedItems {
		c.reply <- placeReply{err: ErrPlacementLimit}
		return
	}

	snapped := e.conv.SnapToGrid(*c.proposal.Location)
	zoneID := geo.FindContainingZone(e.scn.ZoneRefs(), snapped)
	var zoneName, emoji string
	if z := e.scn.ZoneByID(zoneID); z != nil {
		zoneName = z.Name
		emoji = z.Emoji
	}

	item := civic.PlacedItem{
		ID:       uuid.NewString(),
		Type:     c.proposal.Type,
		Title:    c.proposal.Title,
		Emoji:    emoji,
		Location: snapped,
		RadiusKM: c.proposal.RadiusKM,
		ZoneID:   zoneID,
		ZoneName: zoneName,
		PlacedAt: time.Now(),
	}
	if item.Title == "" {
		item.Title = deriveTitle(item.Type)
	}

	s.placed = append(s.placed, item)
	s.bumpWorld()
	e.publish(Event{Type: EventItemPlaced, Item: &item})
	c.reply <- placeReply{item: item}
}

// Place commits a spatial proposal to the map: snaps its location to the
// grid, resolves the containing zone, and stores it. Rejected without state
// change when the placement cap is reached.
func (e *Engine) Place(ctx context.Context, p civic.Proposal) (civic.PlacedItem, error) {
	if p.Kind != civic.ProposalSpatial {
		return civic.PlacedItem{}, ErrNotSpatial
	}
	if err := validateProposal(p); err != nil {
		return civic.PlacedItem{}, err
	}
	reply := make(chan placeReply, 1)
	if err := e.post(ctx, placeCmd{proposal: p, reply: reply}); err != nil {
		return civic.PlacedItem{}, err
	}
	select {
	case r := <-reply:
		return r.item, r.err
	case <-ctx.Done():
		return civic.PlacedItem{}, ctx.Err()
	}
}

type removeCmd struct {
	itemID string
	reply  chan error
}

func (c removeCmd) apply(e *Engine, s *state) {
	for i, item := range s.placed {
		if item.ID == c.itemID {
			s.placed = append(s.placed[:i], s.placed[i+1:]...)
			s.bumpWorld()
			e.publish(Event{Type: EventItemRemoved, ItemID: c.itemID})
			c.reply <- nil
			return
		}
	}
	c.reply <- fmt.Errorf("placed item %q not found", c.itemID)
}

// Remove deletes a placed item by id.
func (e *Engine) Remove(ctx context.Context, itemID string) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, removeCmd{itemID: itemID, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

// --- settings / chat bookkeeping ---

type setAutoSimulateCmd struct {
	on bool
}

func (c setAutoSimulateCmd) apply(e *Engine, s *state) {
	s.autoSimulate = c.on
	if e.store != nil {
		if err := e.store.SetAutoSimulate(e.sessionID, c.on); err != nil {
			log.Printf("[session %s] persist settings: %v", e.sessionID, err)
		}
	}
}

// SetAutoSimulate toggles the auto-simulate flag and persists it.
func (e *Engine) SetAutoSimulate(ctx context.Context, on bool) error {
	return e.post(ctx, setAutoSimulateCmd{on: on})
}

type clearAdoptionErrorCmd struct{}

func (clearAdoptionErrorCmd) apply(e *Engine, s *state) { s.adoptionError = "" }

// ClearAdoptionError dismisses the adoption failure banner.
func (e *Engine) ClearAdoptionError(ctx context.Context) error {
	return e.post(ctx, clearAdoptionErrorCmd{})
}

// appendChat adds a conversation entry, trims to the cap, and persists.
// Run-loop only.
func (e *Engine) appendChat(s *state, entry civic.ChatEntry) {
	entry.CreatedAt = time.Now()
	s.conversation = append(s.conversation, entry)
	if n := len(s.conversation); n > maxConversationEntries {
		s.conversation = s.conversation[n-maxConversationEntries:]
	}
	if e.store != nil {
		if err := e.store.AppendChat(e.sessionID, entry); err != nil {
			log.Printf("[session %s] persist chat: %v", e.sessionID, err)
		}
	}
}

// --- relationships ---

type relationshipsLoadedCmd struct {
	edges []civic.RelationshipEdge
}

func (c relationshipsLoadedCmd) apply(e *Engine, s *state) {
	s.relationships = c.edges
}

type refreshRelationshipsCmd struct{}

// Launches the fetch from the run loop so the worker inherits baseCtx the
// same way job pollers do.
func (refreshRelationshipsCmd) apply(e *Engine, s *state) {
	go func() {
		edges, err := e.backend.Relationships(e.baseCtx, e.sessionID)
		if err != nil {
			log.Printf("[session %s] relationships: %v", e.sessionID, err)
			return
		}
		_ = e.post(e.baseCtx, relationshipsLoadedCmd{edges: edges})
	}()
}

// RefreshRelationships re-fetches the relationship graph in the background.
func (e *Engine) RefreshRelationships(ctx context.Context) error {
	return e.post(ctx, refreshRelationshipsCmd{})
}

type mergeStanceCmd struct {
	reaction civic.AgentReaction
}

func (c mergeStanceCmd) apply(e *Engine, s *state) {
	s.reactions[c.reaction.AgentKey] = c.reaction
	e.publish(Event{Type: EventPartialMerge, Reactions: []civic.AgentReaction{c.reaction}})
}

// ApplyStanceUpdate merges a stance change produced as a DM side effect.
func (e *Engine) ApplyStanceUpdate(ctx context.Context, r civic.AgentReaction) error {
	return e.post(ctx, mergeStanceCmd{reaction: r})
}

func (e *Engine) wait(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
