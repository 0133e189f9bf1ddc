package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/CivicSim/CS-Gateway/internal/backend"
	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/CivicSim/CS-Gateway/internal/worldstate"
)

// StartRequest is the input to a progressive simulation run.
type StartRequest struct {
	Message     string `json:"message"`
	SpeakerMode string `json:"speaker_mode,omitempty"`
}

// --- start ---

type startSimulationCmd struct {
	req   StartRequest
	reply chan error
}

func (c startSimulationCmd) apply(e *Engine, s *state) {
	// A new start always supersedes whatever is in flight: the old poller
	// is cancelled and its epoch fenced off, so exactly one job id is ever
	// referenced by session state.
	s.releaseJob()
	s.jobEpoch++
	s.clearResults()
	s.job = JobState{Status: JobPending}

	e.appendChat(s, civic.ChatEntry{Role: "user", Content: c.req.Message})

	req := backend.AIRequest{
		Message:     c.req.Message,
		ScenarioID:  e.scenarioID,
		SessionID:   e.sessionID,
		WorldState:  worldstate.Build(s.placed, s.adopted, s.relationships, s.worldVersion),
		SpeakerMode: c.req.SpeakerMode,
	}
	if s.proposal != nil {
		p := *s.proposal
		req.BuildProposal = &p
	}

	ctx, cancel := context.WithCancel(e.baseCtx)
	s.jobCancel = cancel
	go e.runJob(ctx, s.jobEpoch, req)

	e.publish(Event{Type: EventJobStarted, Job: &s.job})
	c.reply <- nil
}

// StartSimulation kicks off a progressive simulation for the given message
// and the session's active proposal. An in-flight job is superseded.
func (e *Engine) StartSimulation(ctx context.Context, req StartRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	reply := make(chan error, 1)
	if err := e.post(ctx, startSimulationCmd{req: req, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

// runJob creates the backend job and polls it to a terminal state, posting
// every response back to the run loop tagged with its epoch. It never
// touches state directly.
func (e *Engine) runJob(ctx context.Context, epoch int, req backend.AIRequest) {
	jobID, err := e.backend.CreateSimulationJob(ctx, req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			_ = e.post(e.baseCtx, jobFailedCmd{epoch: epoch, err: err})
		}
		return
	}
	_ = e.post(e.baseCtx, jobCreatedCmd{epoch: epoch, jobID: jobID})

	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := e.backend.GetSimulationJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			_ = e.post(e.baseCtx, jobFailedCmd{epoch: epoch, err: err})
			return
		}

		_ = e.post(e.baseCtx, pollResultCmd{epoch: epoch, jobID: jobID, status: status})
		if status.Status == backend.JobComplete || status.Status == backend.JobError {
			return
		}
	}
}

// --- job lifecycle commands ---

type jobCreatedCmd struct {
	epoch int
	jobID string
}

func (c jobCreatedCmd) apply(e *Engine, s *state) {
	if c.epoch != s.jobEpoch {
		return
	}
	s.job.ID = c.jobID
}

type jobFailedCmd struct {
	epoch int
	err   error
}

func (c jobFailedCmd) apply(e *Engine, s *state) {
	if c.epoch != s.jobEpoch {
		return
	}
	s.job.Status = JobError
	s.job.Error = c.err.Error()
	s.job.ErrorKind = classifyJobError(c.err)
	s.releaseJob()
	e.publish(Event{Type: EventJobFailed, Job: &s.job})
}

func classifyJobError(err error) backend.ErrorKind {
	var unavailable *backend.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return backend.KindUpstreamUnavailable
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return backend.ClassifyKind("", err.Error())
}

type pollResultCmd struct {
	epoch  int
	jobID  string
	status *backend.JobStatus
}

func (c pollResultCmd) apply(e *Engine, s *state) {
	// Fence off responses from superseded jobs. The epoch covers the gap
	// before a job id is known; the id check guards against a backend
	// answering for the wrong job.
	if c.epoch != s.jobEpoch {
		return
	}
	if s.job.ID != "" && c.jobID != s.job.ID {
		return
	}

	st := c.status
	s.job.Progress = st.Progress
	s.job.Phase = st.Phase
	s.job.Message = st.Message
	s.job.CompletedAgents = st.CompletedAgents
	s.job.TotalAgents = st.TotalAgents

	switch st.Status {
	case backend.JobPending:
		s.job.Status = JobPending
	case backend.JobRunning:
		s.job.Status = JobRunning
	case backend.JobError:
		s.job.Status = JobError
		s.job.Error = st.Error
		s.job.ErrorKind = backend.ClassifyKind(st.ErrorKind, st.Error)
		s.releaseJob()
		e.publish(Event{Type: EventJobFailed, Job: &s.job})
		return
	case backend.JobComplete:
		e.completeJob(s, st)
		return
	}

	// Merge partials immediately so the map colors in as agents finish.
	if len(st.PartialReactions) > 0 || len(st.PartialZones) > 0 {
		for _, r := range st.PartialReactions {
			s.reactions[r.AgentKey] = r
		}
		for _, z := range st.PartialZones {
			s.zones[z.ZoneID] = z
		}
		e.publish(Event{Type: EventPartialMerge, Reactions: st.PartialReactions, Zones: st.PartialZones})
	}
	e.publish(Event{Type: EventJobProgress, Job: &s.job})
}

// completeJob copies the final result into session state and records the
// run as a feed entry. Run-loop only.
func (e *Engine) completeJob(s *state, st *backend.JobStatus) {
	s.job.Status = JobComplete
	s.job.Progress = 1
	s.releaseJob()

	if st.Result != nil {
		res := st.Result
		for _, r := range res.Reactions {
			s.reactions[r.AgentKey] = r
		}
		for _, z := range res.Zones {
			s.zones[z.ZoneID] = z
		}
		s.townHall = res.TownHall
		ip := res.Interpreted
		s.interpreted = &ip

		item := e.addToFeed(s, ip, res.Reactions)
		e.appendChat(s, civic.ChatEntry{
			Role:    "assistant",
			Content: res.Reply,
			Quotes:  topQuotes(res.Reactions, 2),
		})
		e.publish(Event{Type: EventFeedUpdated, FeedItem: &item})
	}

	e.publish(Event{Type: EventJobComplete, Job: &s.job})
}

// --- cancel ---

type cancelCmd struct {
	reply chan error
}

func (c cancelCmd) apply(e *Engine, s *state) {
	if !s.job.IsActive() {
		c.reply <- nil
		return
	}
	// Client-side only: the poller stops and the result is discarded, but
	// the backend keeps computing. No cancellation RPC exists in the
	// backend contract.
	s.releaseJob()
	s.jobEpoch++
	s.job = JobState{Status: JobIdle}
	e.publish(Event{Type: EventJobCancelled, Job: &s.job})
	c.reply <- nil
}

// Cancel abandons the in-flight simulation and returns the job machine to
// idle. Advisory: server-side work continues and is discarded.
func (e *Engine) Cancel(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, cancelCmd{reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

// --- synchronous chat path ---

type chatResultCmd struct {
	epoch  int
	result *backend.AIResult
	err    error
	reply  chan error
}

func (c chatResultCmd) apply(e *Engine, s *state) {
	if c.epoch != s.jobEpoch {
		if c.err == nil {
			log.Printf("[session %s] discarding stale chat result", e.sessionID)
		}
		c.reply <- nil
		return
	}
	if c.err != nil {
		s.job.Status = JobError
		s.job.Error = c.err.Error()
		s.job.ErrorKind = classifyJobError(c.err)
		e.publish(Event{Type: EventJobFailed, Job: &s.job})
		c.reply <- c.err
		return
	}
	e.completeJob(s, &backend.JobStatus{Status: backend.JobComplete, Result: c.result})
	c.reply <- nil
}

// Chat runs the non-progressive simulation path: one synchronous backend
// call whose full result lands in state at once.
func (e *Engine) Chat(ctx context.Context, req StartRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	reply := make(chan error, 1)
	if err := e.post(ctx, startChatCmd{req: req, reply: reply}); err != nil {
		return err
	}
	return e.wait(ctx, reply)
}

type startChatCmd struct {
	req   StartRequest
	reply chan error
}

func (c startChatCmd) apply(e *Engine, s *state) {
	s.releaseJob()
	s.jobEpoch++
	s.clearResults()
	s.job = JobState{Status: JobRunning}
	e.appendChat(s, civic.ChatEntry{Role: "user", Content: c.req.Message})

	req := backend.AIRequest{
		Message:     c.req.Message,
		ScenarioID:  e.scenarioID,
		SessionID:   e.sessionID,
		WorldState:  worldstate.Build(s.placed, s.adopted, s.relationships, s.worldVersion),
		SpeakerMode: c.req.SpeakerMode,
	}
	if s.proposal != nil {
		p := *s.proposal
		req.BuildProposal = &p
	}

	epoch := s.jobEpoch
	go func() {
		res, err := e.backend.Chat(e.baseCtx, req)
		_ = e.post(e.baseCtx, chatResultCmd{epoch: epoch, result: res, err: err, reply: c.reply})
	}()
}
