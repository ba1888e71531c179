package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/natsbus"
	"github.com/softcrew/crewd/internal/store"
)

// Protocol selects how a collaboration round moves work between agents.
type Protocol string

const (
	ProtocolSequential   Protocol = "sequential"
	ProtocolParallel     Protocol = "parallel"
	ProtocolHierarchical Protocol = "hierarchical"
)

func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolSequential, ProtocolParallel, ProtocolHierarchical:
		return Protocol(s), nil
	}
	return "", fmt.Errorf("unknown protocol: %s", s)
}

// Request describes one collaboration round.
type Request struct {
	ID           string   `json:"id,omitempty"`
	Protocol     Protocol `json:"protocol"`
	Initiator    string   `json:"initiator,omitempty"`
	Participants []string `json:"participants"`
	Prompt       string   `json:"prompt"`
	Context      string   `json:"context,omitempty"`
}

// AgentOutput pairs a participant with what it produced during the round.
type AgentOutput struct {
	AgentID string        `json:"agent_id"`
	Output  *agent.Output `json:"output"`
}

// Result is the outcome of a completed round.
type Result struct {
	SessionID string         `json:"session_id"`
	Protocol  Protocol       `json:"protocol"`
	Output    string         `json:"output"`
	Outputs   []AgentOutput  `json:"outputs"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Orchestrator runs collaboration rounds over the roster. Every round gets a
// session for its lifetime, a persisted run record, and a stream of events on
// the collaboration topic.
type Orchestrator struct {
	roster   *agent.Roster
	store    *store.Store
	client   *natsbus.Client
	sessions *sessionStore
}

func New(roster *agent.Roster, s *store.Store, client *natsbus.Client) *Orchestrator {
	return &Orchestrator{
		roster:   roster,
		store:    s,
		client:   client,
		sessions: newSessionStore(),
	}
}

// CreateSession registers a session for a later Execute call. Configuration
// problems (bad protocol, empty or unknown participants, duplicate active id)
// fail here, before anything is dispatched.
func (o *Orchestrator) CreateSession(req Request) (*Session, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if _, err := ParseProtocol(string(req.Protocol)); err != nil {
		return nil, err
	}
	if len(req.Participants) == 0 {
		return nil, fmt.Errorf("collaboration requires at least one participant")
	}
	if _, err := o.roster.Resolve(req.Participants); err != nil {
		return nil, fmt.Errorf("resolve participants: %w", err)
	}

	sess := &Session{
		ID:           req.ID,
		Protocol:     req.Protocol,
		Initiator:    req.Initiator,
		Participants: req.Participants,
		StartedAt:    time.Now().UTC(),
	}
	if err := o.sessions.create(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Session looks up an active session by id.
func (o *Orchestrator) Session(id string) (Session, bool) {
	return o.sessions.get(id)
}

// EndSession removes a session that has not started executing. A running
// round cleans up after itself and cannot be ended from outside.
func (o *Orchestrator) EndSession(id string) error {
	return o.sessions.end(id)
}

// Execute runs the protocol of a previously created session. The session is
// consumed: it is removed on every exit path, success or failure.
func (o *Orchestrator) Execute(ctx context.Context, id, prompt, contextText string) (*Result, error) {
	sess, ok := o.sessions.get(id)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", id)
	}
	if err := o.sessions.markRunning(id); err != nil {
		return nil, err
	}

	return o.execute(ctx, Request{
		ID:           sess.ID,
		Protocol:     sess.Protocol,
		Initiator:    sess.Initiator,
		Participants: sess.Participants,
		Prompt:       prompt,
		Context:      contextText,
	})
}

// Run executes one ad-hoc round end to end: the session exists only for the
// duration of the call. A failed participant fails the whole round.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	sess, err := o.CreateSession(req)
	if err != nil {
		return nil, err
	}
	req.ID = sess.ID
	if err := o.sessions.markRunning(req.ID); err != nil {
		return nil, err
	}
	return o.execute(ctx, req)
}

func (o *Orchestrator) execute(ctx context.Context, req Request) (res *Result, err error) {
	defer o.sessions.delete(req.ID)

	agents, err := o.roster.Resolve(req.Participants)
	if err != nil {
		return nil, fmt.Errorf("resolve participants: %w", err)
	}

	o.saveRun(req, "running", "")
	o.publishEvent(req.ID, "collab_started", map[string]any{
		"protocol":     req.Protocol,
		"participants": req.Participants,
	})

	defer func() {
		if err != nil {
			o.saveRun(req, "failed", err.Error())
			o.publishEvent(req.ID, "collab_failed", map[string]any{"error": err.Error()})
		} else {
			o.saveRun(req, "completed", res.Output)
			o.publishEvent(req.ID, "collab_completed", map[string]any{
				"output": truncate(res.Output, 200),
			})
		}
	}()

	base := map[string]any{
		agent.MetaSessionID: req.ID,
		agent.MetaProtocol:  string(req.Protocol),
		agent.MetaInitiator: req.Initiator,
	}

	switch req.Protocol {
	case ProtocolSequential:
		res, err = o.runSequential(ctx, req, agents, base)
	case ProtocolParallel:
		res, err = o.runParallel(ctx, req, agents, base)
	case ProtocolHierarchical:
		res, err = o.runHierarchical(ctx, req, agents, base)
	default:
		err = fmt.Errorf("unknown protocol: %s", req.Protocol)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("collaboration finished", "session", req.ID, "protocol", req.Protocol)
	return res, nil
}

// ActiveSessions lists the sessions currently registered, running or not.
func (o *Orchestrator) ActiveSessions() []Session {
	return o.sessions.list()
}

func (o *Orchestrator) saveRun(req Request, status, output string) {
	if o.store == nil {
		return
	}

	var err error
	if status == "running" {
		participants, _ := json.Marshal(req.Participants)
		err = o.store.SaveCollabRun(&store.CollabRun{
			ID:           req.ID,
			Protocol:     string(req.Protocol),
			Initiator:    req.Initiator,
			Participants: participants,
			Prompt:       req.Prompt,
			Status:       status,
		})
	} else {
		encoded, _ := json.Marshal(output)
		err = o.store.UpdateCollabRun(req.ID, status, encoded)
	}
	if err != nil {
		slog.Warn("persist collab run failed", "session", req.ID, "error", err)
	}
}

func (o *Orchestrator) publishEvent(sessionID, eventType string, data map[string]any) {
	if o.client == nil {
		return
	}
	_ = o.client.PublishEvent(natsbus.TopicCollabEvents(sessionID), natsbus.Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
