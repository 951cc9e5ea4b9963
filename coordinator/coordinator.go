package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/systeminit/workspace-engine/bus"
	"github.com/systeminit/workspace-engine/snapshot"
)

// defaultIdleTimeout is spec.md §4.4's liveness timer: "a 60-second idle
// timer causes the coordinator to log the outstanding graph but not drop
// it." Config.IdleTimeout overrides it when set.
const defaultIdleTimeout = 60 * time.Second

// protocolTopic is the single bus topic every worker publishes protocol
// envelopes to; the coordinator fans dispatch replies back out to each
// worker's own reply-channel topic (Envelope.ReplyTo).
const protocolTopic = "dvu.protocol"

// Config holds the coordinator's wiring.
type Config struct {
	Bus    bus.Bus
	Logger *logrus.Entry

	// PhaseNotifyURL, if set, is a websocket endpoint the coordinator
	// pushes change-set apply/phase notifications to — the external
	// observability sink, kept from the teacher's WebSocket-based
	// coordination surface after the worker protocol itself moved onto
	// the bus.
	PhaseNotifyURL string

	// IdleTimeout overrides the default 60-second liveness timer
	// (spec.md §4.4). Zero means use the default.
	IdleTimeout time.Duration
}

// Coordinator is the single-threaded cooperative DVU coordinator described
// in spec.md §4.4: one receive loop, no shared-mutable state touched from
// other goroutines, per-change-set dependency graphs.
//
// Adapted from coordinator/coordinator.go's Coordinator (connection
// lifecycle, message dispatch table, ping/notify loops), replacing its
// websocket-as-protocol-transport with bus.Bus for the worker protocol
// while keeping websocket for PhaseNotifyURL.
type Coordinator struct {
	config Config
	logger *logrus.Entry

	graphs map[string]*depGraph // change_set_id -> depGraph
	phases *PhaseManager

	phaseConn   *websocket.Conn
	phaseConnMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// idleTimeout returns the configured liveness-timer duration, falling
// back to the spec.md §4.4 default when Config.IdleTimeout is unset.
func (c *Coordinator) idleTimeout() time.Duration {
	if c.config.IdleTimeout > 0 {
		return c.config.IdleTimeout
	}
	return defaultIdleTimeout
}

// New constructs a Coordinator. Callers must call Run to start the receive
// loop.
func New(config Config) *Coordinator {
	if config.Logger == nil {
		config.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		config: config,
		logger: config.Logger.WithField("component", "coordinator"),
		graphs: make(map[string]*depGraph),
		phases: NewPhaseManager(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.phases.OnPhaseChanged(func(state *PhaseState) {
		c.NotifyPhase(state.ChangeSetID, string(state.Phase))
	})
	return c
}

// Phases returns the coordinator's change-set apply-phase tracker, so
// callers driving the change-set layer (changeset.ChangeSet.ApplyToBase,
// DetectChangesFromHead) can report phase transitions as they progress.
func (c *Coordinator) Phases() *PhaseManager { return c.phases }

// Run drives the single receive loop until ctx is cancelled or a shutdown
// signal arrives, per spec.md §4.4's "driven by one receive loop that
// awaits either the bus or shutdown signals... shutdown signals cause the
// loop to drain to a safe point and exit."
func (c *Coordinator) Run(ctx context.Context) error {
	if c.config.PhaseNotifyURL != "" {
		if err := c.dialPhaseNotify(ctx); err != nil {
			c.logger.WithError(err).Warn("phase notification websocket unavailable, continuing without it")
		}
	}

	msgs, err := c.config.Bus.Subscribe(ctx, protocolTopic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", protocolTopic, err)
	}

	if err := c.broadcastRestart(ctx); err != nil {
		c.logger.WithError(err).Warn("failed to broadcast restart on startup")
	}

	idleEvery := c.idleTimeout()
	idle := time.NewTicker(idleEvery)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.drain()
		case <-c.ctx.Done():
			return c.drain()
		case <-idle.C:
			c.logOutstandingGraphs()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, m)
			idle.Reset(idleEvery)
		}
	}
}

// Shutdown signals the receive loop to stop at its next safe point.
func (c *Coordinator) Shutdown() { c.cancel() }

func (c *Coordinator) drain() error {
	c.logger.Info("draining to safe point, in-flight worker requests left to workers' own Restart recovery")
	c.phaseConnMu.Lock()
	if c.phaseConn != nil {
		c.phaseConn.Close()
	}
	c.phaseConnMu.Unlock()
	return nil
}

// handle dispatches one bus message to its protocol handler. All handlers
// run to completion before the next receive, per spec.md §4.4's
// single-threaded-cooperative guarantee.
func (c *Coordinator) handle(ctx context.Context, m bus.Message) {
	env, err := ParseEnvelope(m.Body)
	if err != nil {
		c.logger.WithError(err).Warn("dropping malformed envelope")
		return
	}

	log := c.logger.WithFields(logrus.Fields{"change_set": env.ChangeSetID, "type": env.Type})

	switch env.Type {
	case MessageTypeValueDependencyGraph:
		c.handleValueDependencyGraph(env)
	case MessageTypeProcessedValue:
		c.handleProcessedValue(ctx, env)
	case MessageTypeValueProcessingFailed:
		c.handleValueProcessingFailed(ctx, env)
	case MessageTypeBye:
		c.handleBye(env)
	default:
		log.Debug("no handler for message type")
		return
	}

	c.dispatch(ctx, env.ChangeSetID)
}

func (c *Coordinator) graphFor(changeSetID string) *depGraph {
	g, ok := c.graphs[changeSetID]
	if !ok {
		g = newDepGraph()
		c.graphs[changeSetID] = g
		if _, tracked := c.phases.GetState(changeSetID); !tracked {
			c.phases.Register(changeSetID)
		}
	}
	return g
}

func (c *Coordinator) handleValueDependencyGraph(env *Envelope) {
	var payload ValueDependencyGraphPayload
	if err := env.DecodePayload(&payload); err != nil {
		c.logger.WithError(err).Warn("invalid value_dependency_graph payload")
		return
	}
	g := c.graphFor(env.ChangeSetID)
	g.merge(payload.Edges, env.ReplyTo)

	if state, ok := c.phases.GetState(env.ChangeSetID); ok && state.Phase == PhaseOpen {
		if err := c.phases.TransitionTo(env.ChangeSetID, PhaseDetectChanges, "dependency graph received"); err != nil {
			c.logger.WithError(err).Debug("phase transition skipped")
		} else if err := c.phases.TransitionTo(env.ChangeSetID, PhaseSettlingDVU, "worker declared dependency graph"); err != nil {
			c.logger.WithError(err).Debug("phase transition skipped")
		}
	}
}

func (c *Coordinator) handleProcessedValue(ctx context.Context, env *Envelope) {
	var payload ProcessedValuePayload
	if err := env.DecodePayload(&payload); err != nil {
		c.logger.WithError(err).Warn("invalid processed_value payload")
		return
	}
	worker, ok := c.graphFor(env.ChangeSetID).processed(payload.NodeID)
	if !ok {
		return
	}
	c.sendTo(ctx, worker, MessageTypeBeenProcessed, env.ChangeSetID, BeenProcessedPayload{NodeID: payload.NodeID})
}

func (c *Coordinator) handleValueProcessingFailed(ctx context.Context, env *Envelope) {
	var payload ValueProcessingFailedPayload
	if err := env.DecodePayload(&payload); err != nil {
		c.logger.WithError(err).Warn("invalid value_processing_failed payload")
		return
	}
	_, notify := c.graphFor(env.ChangeSetID).failed(payload.NodeID)
	for worker, nodes := range notify {
		for _, n := range nodes {
			c.sendTo(ctx, worker, MessageTypeFailed, env.ChangeSetID, FailedPayload{NodeID: n})
		}
	}
	if state, ok := c.phases.GetState(env.ChangeSetID); ok && state.Phase.IsActive() {
		if err := c.phases.TransitionTo(env.ChangeSetID, PhaseFailed, "value processing failed: "+payload.Reason); err != nil {
			c.logger.WithError(err).Debug("phase transition skipped")
		}
	}
}

func (c *Coordinator) handleBye(env *Envelope) {
	c.graphFor(env.ChangeSetID).bye(env.ReplyTo)
}

// dispatch applies spec.md §4.4's dispatch rule for one change set: after
// handling the inbound message, scan for now-ready nodes and send each
// waiting worker an OkToProcess batch.
func (c *Coordinator) dispatch(ctx context.Context, changeSetID string) {
	g, ok := c.graphs[changeSetID]
	if !ok {
		return
	}
	batches := g.dispatchable()
	if len(batches) > 0 {
		if state, ok := c.phases.GetState(changeSetID); ok && state.Phase == PhaseSettlingDVU {
			if err := c.phases.TransitionTo(changeSetID, PhaseApplying, "dispatching ready nodes to workers"); err != nil {
				c.logger.WithError(err).Debug("phase transition skipped")
			}
		}
	}
	for worker, nodes := range batches {
		c.sendTo(ctx, worker, MessageTypeOkToProcess, changeSetID, OkToProcessPayload{NodeIDs: nodes})
	}
	if g.isEmpty() {
		delete(c.graphs, changeSetID)
		if state, ok := c.phases.GetState(changeSetID); ok && state.Phase == PhaseApplying {
			if err := c.phases.TransitionTo(changeSetID, PhaseApplied, "dependency graph drained"); err != nil {
				c.logger.WithError(err).Debug("phase transition skipped")
			}
		}
		c.phases.Remove(changeSetID)
	}
}

func (c *Coordinator) sendTo(ctx context.Context, workerTopic string, msgType MessageType, changeSetID string, payload interface{}) {
	env, err := NewEnvelope(msgType, changeSetID, "", payload)
	if err != nil {
		c.logger.WithError(err).Warn("failed to encode outgoing envelope")
		return
	}
	data, err := env.JSON()
	if err != nil {
		c.logger.WithError(err).Warn("failed to serialize outgoing envelope")
		return
	}
	if err := c.config.Bus.Publish(ctx, workerTopic, data); err != nil {
		c.logger.WithError(err).WithField("worker", workerTopic).Warn("failed to publish to worker")
	}
}

// broadcastRestart sends Restart to the well-known broadcast topic so every
// live worker resubmits its dependency graphs, per spec.md §4.4: "restart
// of the coordinator causes a Restart broadcast so workers re-register."
func (c *Coordinator) broadcastRestart(ctx context.Context) error {
	env, err := NewEnvelope(MessageTypeRestart, "", "", struct{}{})
	if err != nil {
		return err
	}
	data, err := env.JSON()
	if err != nil {
		return err
	}
	return c.config.Bus.Publish(ctx, "dvu.broadcast", data)
}

func (c *Coordinator) logOutstandingGraphs() {
	for changeSetID, g := range c.graphs {
		if g.isEmpty() {
			continue
		}
		outstanding := make([]snapshot.NodeID, 0, len(g.dependsOn))
		for node := range g.dependsOn {
			outstanding = append(outstanding, node)
		}
		c.logger.WithFields(logrus.Fields{
			"change_set":  changeSetID,
			"outstanding": len(outstanding),
		}).Info("idle timer: outstanding dependency graph not dropped")
	}
}

func (c *Coordinator) dialPhaseNotify(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.config.PhaseNotifyURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial phase notify: %w", err)
	}
	c.phaseConnMu.Lock()
	c.phaseConn = conn
	c.phaseConnMu.Unlock()
	return nil
}

// NotifyPhase pushes a change-set phase transition to the external
// observability sink, best-effort.
func (c *Coordinator) NotifyPhase(changeSetID string, status string) {
	c.phaseConnMu.Lock()
	conn := c.phaseConn
	c.phaseConnMu.Unlock()
	if conn == nil {
		return
	}
	env, err := NewEnvelope(MessageType("phase_changed"), changeSetID, "", map[string]string{"status": status})
	if err != nil {
		return
	}
	data, err := env.JSON()
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.WithError(err).Debug("phase notify write failed")
	}
}
