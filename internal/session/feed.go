package session

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/CivicSim/CS-Gateway/internal/backend"
	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	maxKeyQuotes  = 4
	maxZoneDeltas = 3

	// deltaScale maps a reaction's 0..1 intensity to the sentiment shift
	// recorded on adoption.
	deltaScale = 0.2
)

var titleCaser = cases.Title(language.English)

// deriveTitle turns a proposal type like "tax_change" into a display title.
func deriveTitle(proposalType string) string {
	if proposalType == "" {
		return "Proposal"
	}
	return titleCaser.String(strings.ReplaceAll(proposalType, "_", " ")) + " Proposal"
}

// addToFeed upserts a feed entry for a freshly simulated proposal.
// Run-loop only.
func (e *Engine) addToFeed(s *state, ip civic.InterpretedProposal, reactions []civic.AgentReaction) civic.FeedItem {
	tally := civic.Tally(reactions)
	item := civic.FeedItem{
		ID:          uuid.NewString(),
		Proposal:    ip,
		Tally:       tally,
		Reactions:   reactions,
		CanPromote:  tally.CanPromote(),
		IsPromoted:  false,
		SimulatedAt: time.Now(),
	}
	if item.Proposal.Title == "" {
		item.Proposal.Title = deriveTitle(ip.Type)
	}
	// A fresh id cannot already be adopted, but the membership check is the
	// contract: is_promoted mirrors adoptedProposals at insert time.
	for _, a := range s.adopted {
		if a.OriginProposalID == item.ID {
			item.IsPromoted = true
			break
		}
	}
	s.feed = append(s.feed, item)
	return item
}

// topQuotes picks up to n non-neutral quotes, strongest reactions first.
func topQuotes(reactions []civic.AgentReaction, n int) []string {
	voters := make([]civic.AgentReaction, 0, len(reactions))
	for _, r := range reactions {
		if r.Stance != civic.StanceNeutral && r.Quote != "" {
			voters = append(voters, r)
		}
	}
	sort.SliceStable(voters, func(i, j int) bool { return voters[i].Intensity > voters[j].Intensity })
	if len(voters) > n {
		voters = voters[:n]
	}
	quotes := make([]string, len(voters))
	for i, r := range voters {
		quotes[i] = r.Quote
	}
	return quotes
}

// zoneDeltas derives up to maxZoneDeltas sentiment shifts from the reaction
// set: support pushes a zone up, opposition down, scaled by intensity.
func zoneDeltas(reactions []civic.AgentReaction) []civic.ZoneDelta {
	deltas := make([]civic.ZoneDelta, 0, len(reactions))
	for _, r := range reactions {
		switch r.Stance {
		case civic.StanceSupport:
			deltas = append(deltas, civic.ZoneDelta{ZoneID: r.AgentKey, Delta: deltaScale * r.Intensity})
		case civic.StanceOppose:
			deltas = append(deltas, civic.ZoneDelta{ZoneID: r.AgentKey, Delta: -deltaScale * r.Intensity})
		}
	}
	sort.SliceStable(deltas, func(i, j int) bool {
		return math.Abs(deltas[i].Delta) > math.Abs(deltas[j].Delta)
	})
	if len(deltas) > maxZoneDeltas {
		deltas = deltas[:maxZoneDeltas]
	}
	return deltas
}

// --- promotion ---

type promoteCmd struct {
	feedID string
	force  bool
	reply  chan error
}

func (c promoteCmd) apply(e *Engine, s *state) {
	var item *civic.FeedItem
	for i := range s.feed {
		if s.feed[i].ID == c.feedID {
			item = &s.feed[i]
			break
		}
	}
	if item == nil {
		c.reply <- ErrUnknownFeedItem
		return
	}
	if !c.force && !item.CanPromote {
		c.reply <- ErrBelowThreshold
		return
	}
	// Idempotent: an origin id already adopted is a no-op success.
	for _, a := range s.adopted {
		if a.OriginProposalID == item.ID {
			item.IsPromoted = true
			c.reply <- nil
			return
		}
	}
	// An Adopt RPC already in flight for this item makes a second promote a
	// no-op too; the result lands through the first call.
	if s.adopting[item.ID] {
		c.reply <- nil
		return
	}
	s.adopting[item.ID] = true

	outcome := "adopted"
	if c.force {
		outcome = "forced"
	}
	event := civic.AdoptedEvent{
		ID:               uuid.NewString(),
		OriginProposalID: item.ID,
		Title:            item.Proposal.Title,
		Summary:          item.Proposal.Summary,
		Outcome:          outcome,
		Tally:            item.Tally,
		KeyQuotes:        topQuotes(item.Reactions, maxKeyQuotes),
		ZoneDeltas:       zoneDeltas(item.Reactions),
		AdoptedAt:        time.Now(),
	}

	go func() {
		err := e.backend.Adopt(e.baseCtx, backend.AdoptRequest{SessionID: e.sessionID, Event: event})
		_ = e.post(e.baseCtx, adoptResultCmd{event: event, feedID: c.feedID, err: err, reply: c.reply})
	}()
}

type adoptResultCmd struct {
	event  civic.AdoptedEvent
	feedID string
	err    error
	reply  chan error
}

func (c adoptResultCmd) apply(e *Engine, s *state) {
	delete(s.adopting, c.feedID)
	if c.err != nil {
		// Captured as a dismissible banner instead of failing the whole
		// session.
		s.adoptionError = fmt.Sprintf("Failed to adopt %q: %v", c.event.Title, c.err)
		e.publish(Event{Type: EventAdoptionError, Message: s.adoptionError})
		c.reply <- c.err
		return
	}

	// A duplicate origin id must never be appended.
	for _, a := range s.adopted {
		if a.OriginProposalID == c.event.OriginProposalID {
			c.reply <- nil
			return
		}
	}

	s.adopted = append(s.adopted, c.event)
	for i := range s.feed {
		if s.feed[i].ID == c.feedID {
			s.feed[i].IsPromoted = true
		}
	}
	s.bumpWorld()
	s.adoptionError = ""
	e.publish(Event{Type: EventPolicyAdopted, Adopted: &c.event})
	c.reply <- nil
}

// Promote converts a feed item that cleared the vote threshold into a
// persisted policy. Idempotent per feed item.
func (e *Engine) Promote(ctx context.Context, feedID string) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, promoteCmd{feedID: feedID, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

// Force adopts a feed item regardless of its vote tally. Admin override.
func (e *Engine) Force(ctx context.Context, feedID string) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, promoteCmd{feedID: feedID, force: true, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}
