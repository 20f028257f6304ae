package consensus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/miles-six/hotshot/events"
	"github.com/miles-six/hotshot/pkg/committee"
	"github.com/miles-six/hotshot/pkg/sign"
)

type (
	// Application supplies and validates the opaque payload the network
	// agrees on. Payload construction runs when this node leads a view;
	// validation runs on every proposal before the node will vote for it.
	// Validation must conform with the coherence property: a correct node
	// never proposes a payload another correct node would reject.
	Application interface {
		// BuildPayload assembles the payload to propose in the view.
		BuildPayload(ctx context.Context, view uint64) ([]byte, error)

		// VerifyPayload checks a proposed payload. A non-nil error
		// withholds this node's vote but does not otherwise punish the
		// proposer.
		VerifyPayload(ctx context.Context, view uint64, payload []byte) error
	}

	// Broadcaster is the networking hook the engine calls to gossip its
	// messages to all other nodes. Implementations must not block on slow
	// peers.
	Broadcaster interface {
		BroadcastProposal(ctx context.Context, p *Proposal) error
		BroadcastVote(ctx context.Context, v *Vote) error
		BroadcastTimeoutVote(ctx context.Context, v *TimeoutVote) error
		BroadcastQC(ctx context.Context, qc *QuorumCertificate) error
		BroadcastTC(ctx context.Context, tc *TimeoutCertificate) error
	}
)

// Operational phases
const (
	off = iota
	startingUp
	operating
	shuttingDown
)

// Engine drives byzantine fault tolerant replication of a single leaf
// chain. It consumes verified network messages and timer firings as events
// from its bus, runs them through the per-view state machine, the vote
// aggregators, the safety rules and the view synchronizer, and emits the
// finalized leaves in order on the Finalized channel.
//
// All protocol state is mutated from a single task loop; the bus
// serializes inputs, so no handler ever races another.
type Engine struct {
	params    Parameters
	namespace []byte

	committee committee.Committee
	app       Application
	sender    Broadcaster
	persist   Persister

	// signer is nil on observer nodes, which follow the chain and verify
	// certificates but never vote or propose.
	signer sign.Signer

	bus        *events.Bus[Event]
	store      *LeafStore
	safety     *Safety
	pacemaker  *Pacemaker
	collectors *Collectors
	machine    *Machine

	// votes referencing proposals we have not seen yet, replayed once
	// the proposal arrives
	pending *pendingVotes

	// first valid proposal seen per view, for double-proposal detection
	// and for voting once the view is entered
	proposed map[uint64]*Proposal

	// proposal arrival times, for the commit latency measurement
	seenAt map[Hash]seenRecord

	// our signed timeout vote for the current view, resent on
	// rebroadcast ticks
	lastTimeout *TimeoutVote

	finalized chan CommitEvent

	status  atomic.Uint32
	runErr  atomic.Error
	cancel  context.CancelFunc
	doneCh  chan struct{}
	logger  zerolog.Logger
	metrics Metrics
}

type seenRecord struct {
	view uint64
	at   time.Time
}

// New assembles an engine from its collaborators, restoring safety and
// liveness state from the persister. A nil signer makes the node an
// observer. The returned engine is inert until Start.
func New(
	params Parameters,
	c committee.Committee,
	app Application,
	sender Broadcaster,
	persist Persister,
	signer sign.Signer,
	opts ...Option,
) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	namespace := []byte(params.Namespace)
	genesis := GenesisLeaf(namespace)

	safetyData, err := persist.GetSafetyData()
	if err != nil {
		return nil, fmt.Errorf("loading safety data: %w", err)
	}
	livenessData, err := persist.GetLivenessData()
	if err != nil {
		return nil, fmt.Errorf("loading liveness data: %w", err)
	}

	e := &Engine{
		params:    params,
		namespace: namespace,
		committee: c,
		app:       app,
		sender:    sender,
		persist:   persist,
		signer:    signer,
		bus:       events.NewBus[Event](),
		store:     NewLeafStore(genesis),
		machine:   NewMachine(),
		pending:   newPendingVotes(params.PendingVoteLimit),
		proposed:  make(map[uint64]*Proposal),
		seenAt:    make(map[Hash]seenRecord),
		finalized: make(chan CommitEvent, 64),
		doneCh:    make(chan struct{}),
		logger:    zerolog.New(os.Stdout).With().Timestamp().Str("component", "engine").Logger(),
		metrics:   NopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.safety, err = NewSafety(genesis, safetyData, e.store, persist, params.CommitChainDepth, e.logger)
	if err != nil {
		return nil, err
	}
	e.pacemaker, err = NewPacemaker(genesis, livenessData, params.Timeout, persist, e.logger)
	if err != nil {
		return nil, err
	}
	e.collectors = NewCollectors(c, namespace)
	return e, nil
}

// EventBus carries the engine's event variants.
type EventBus = events.Bus[Event]

// Bus exposes the engine's event bus. The networking layer publishes
// decoded inbound messages here; external observers may subscribe to
// watch the protocol.
func (e *Engine) Bus() *EventBus {
	return e.bus
}

// Finalized delivers committed leaves exactly once, in commit order, after
// the decision has been durably persisted. The channel is buffered; a
// consumer that stops draining eventually stalls the engine rather than
// losing a commit.
func (e *Engine) Finalized() <-chan CommitEvent {
	return e.finalized
}

// CurView returns the view the synchronizer currently sits in.
func (e *Engine) CurView() uint64 {
	return e.pacemaker.CurView()
}

// Err returns the unrecoverable error that halted the engine, if any.
func (e *Engine) Err() error {
	return e.runErr.Load()
}

// Start resumes the protocol from the persisted view. Safe to call once;
// subsequent calls are no-ops while the engine runs.
func (e *Engine) Start(ctx context.Context) error {
	if !e.status.CompareAndSwap(off, startingUp) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	sub := e.bus.Subscribe(e.params.SubscriptionCapacity, nil)
	task := events.NewTask[Event]("engine", sub, e.handleEvent, e.logger)

	e.pacemaker.Start(runCtx)
	e.status.Store(operating)

	go e.forwardTimeouts(runCtx)
	go func() {
		defer close(e.doneCh)
		task.Run(runCtx)
	}()

	e.logger.Info().
		Uint64("view", e.pacemaker.CurView()).
		Uint64("committed", e.safety.CommittedView()).
		Msg("consensus engine started")

	// the first view event activates the state machine at the restored view
	e.bus.Publish(ViewEvent{View: e.pacemaker.CurView()})
	return nil
}

// Stop halts the task loop and the view timer and waits for the loop to
// drain. Returns the unrecoverable error that stopped the engine early,
// if there was one.
func (e *Engine) Stop() error {
	if !e.status.CompareAndSwap(operating, shuttingDown) {
		return nil
	}
	e.cancel()
	<-e.doneCh
	e.pacemaker.Stop()
	e.status.Store(off)

	var result *multierror.Error
	if err := e.runErr.Load(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// forwardTimeouts turns view timer firings into bus events so they flow
// through the same serialized loop as network messages. The timer event
// carries the view the timer was armed for, not the view the node is in
// when the fire is read, so a fire raced by a view advance is dropped by
// the handler's view guard instead of being misattributed.
func (e *Engine) forwardTimeouts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fire := <-e.pacemaker.TimeoutChannel():
			e.bus.Publish(TimerEvent{View: fire.View})
		}
	}
}

// handleEvent is the single entry point of the task loop. Recoverable
// errors are returned for the task to log and drop; unrecoverable ones
// halt the engine.
func (e *Engine) handleEvent(ctx context.Context, event Event) error {
	var err error
	switch ev := event.(type) {
	case ProposalEvent:
		err = e.onProposal(ctx, ev.Proposal)
	case VoteEvent:
		err = e.onVote(ctx, ev.Vote)
	case TimeoutVoteEvent:
		err = e.onTimeoutVote(ctx, ev.Vote)
	case CertificateEvent:
		err = e.onCertificate(ctx, ev)
	case TimerEvent:
		err = e.onTimer(ctx, ev.View)
	case ViewEvent:
		err = e.onViewEntered(ctx, ev.View)
	default:
		err = fmt.Errorf("unsupported event: %T", event)
	}
	if err != nil && isUnrecoverable(err) {
		e.fail(err)
		return nil
	}
	return err
}

func (e *Engine) fail(err error) {
	e.logger.Error().Err(err).Msg("halting consensus engine")
	e.runErr.Store(err)
	e.cancel()
}

func (e *Engine) onProposal(ctx context.Context, p *Proposal) error {
	if err := p.ValidateForm(); err != nil {
		return fmt.Errorf("malformed proposal: %w", err)
	}
	leaf := p.Leaf
	curView := e.pacemaker.CurView()
	if leaf.View < curView {
		e.logger.Debug().Uint64("view", leaf.View).Uint64("cur", curView).Msg("dropping stale proposal")
		return nil
	}

	leader := e.committee.LeaderFor(leaf.View)
	if !equalID(leader.ID(), p.Signer) {
		return fmt.Errorf("proposal for view %d signed by %X, leader is %X",
			leaf.View, truncate(p.Signer, 4), truncate(leader.ID(), 4))
	}
	if !leader.Verify(ProposalSignBytes(leaf.View, leaf.ID(), e.namespace), p.Signature) {
		return fmt.Errorf("%w: proposal for view %d", ErrInvalidSignature, leaf.View)
	}

	id := leaf.ID()
	if prior, ok := e.proposed[leaf.View]; ok && prior.Leaf.ID() != id {
		e.metrics.EquivocationDetected()
		return EquivocationError{
			Signer: p.Signer,
			View:   leaf.View,
			Kind:   QuorumCert,
			First:  prior.Leaf.ID(),
			Second: id,
		}
	}
	if e.store.Has(id) {
		return nil
	}

	// the embedded certificates must hold before the leaf is credible
	if !leaf.Justify.IsGenesis() {
		if err := leaf.Justify.Verify(e.committee, e.namespace); err != nil {
			return InvalidProposalError{View: leaf.View, Err: err}
		}
	}
	if leaf.View > leaf.Justify.View+1 {
		// a view gap needs a TC for the view directly before the leaf
		if leaf.JustifyTC == nil || leaf.JustifyTC.View != leaf.View-1 {
			return InvalidProposalError{View: leaf.View,
				Err: fmt.Errorf("gap from justify view %d to %d without a timeout certificate", leaf.Justify.View, leaf.View)}
		}
		if err := leaf.JustifyTC.Verify(e.committee, e.namespace); err != nil {
			return InvalidProposalError{View: leaf.View, Err: err}
		}
	}

	if err := e.app.VerifyPayload(ctx, leaf.View, leaf.Payload); err != nil {
		return InvalidProposalError{View: leaf.View, Err: fmt.Errorf("payload rejected: %w", err)}
	}

	e.proposed[leaf.View] = p
	e.store.Add(leaf)
	e.seenAt[id] = seenRecord{view: leaf.View, at: time.Now()}

	// the proposal's own QC may advance us into the proposal's view
	if err := e.processQC(ctx, leaf.Justify); err != nil {
		return err
	}
	if leaf.JustifyTC != nil {
		if err := e.processTC(ctx, leaf.JustifyTC); err != nil {
			return err
		}
	}

	for _, vote := range e.pending.take(id) {
		if err := e.onVote(ctx, vote); err != nil {
			e.logger.Debug().Err(err).Msg("replayed pending vote rejected")
		}
	}

	return e.maybeVote(ctx, p)
}

// maybeVote runs the proposal through the state machine and the safety
// rules and casts a vote when both allow it.
func (e *Engine) maybeVote(ctx context.Context, p *Proposal) error {
	if e.signer == nil || !e.committee.IsMember(e.signer.ID(), p.Leaf.View) {
		return nil
	}
	if e.machine.View() != p.Leaf.View || e.machine.CurrentStep() != StepNewView {
		return nil
	}
	if err := e.safety.ShouldVote(p, e.pacemaker.CurView()); err != nil {
		if IsNoVoteError(err) {
			e.logger.Debug().Err(err).Uint64("view", p.Leaf.View).Msg("withholding vote")
			return nil
		}
		return err
	}
	return e.execute(ctx, e.machine.Step(ProposalReady{Proposal: p}))
}

func (e *Engine) onVote(ctx context.Context, v *Vote) error {
	if err := v.ValidateForm(); err != nil {
		return fmt.Errorf("malformed vote: %w", err)
	}
	if !e.store.Has(v.Leaf) {
		if dropped := e.pending.park(v); dropped {
			e.logger.Debug().Str("vote", v.String()).Msg("pending vote queue full, evicted oldest leaf bucket")
		}
		return nil
	}
	agg, err := e.collectors.GetOrCreate(v.View, QuorumCert)
	if err != nil {
		if errors.Is(err, ErrStaleView) {
			return nil
		}
		return err
	}
	result, err := agg.AddVote(v)
	return e.afterAggregation(ctx, result, err)
}

func (e *Engine) onTimeoutVote(ctx context.Context, v *TimeoutVote) error {
	if err := v.ValidateForm(); err != nil {
		return fmt.Errorf("malformed timeout vote: %w", err)
	}
	agg, err := e.collectors.GetOrCreate(v.View, TimeoutCert)
	if err != nil {
		if errors.Is(err, ErrStaleView) {
			return nil
		}
		return err
	}
	result, err := agg.AddTimeoutVote(v)
	return e.afterAggregation(ctx, result, err)
}

func (e *Engine) afterAggregation(ctx context.Context, result AddVoteResult, err error) error {
	if err != nil {
		if IsEquivocationError(err) {
			e.metrics.EquivocationDetected()
			e.logger.Warn().Err(err).Msg("equivocation detected")
			return nil
		}
		if errors.Is(err, ErrCertificateFormed) || errors.Is(err, ErrStaleView) {
			return nil
		}
		return err
	}
	switch result.Status {
	case CertFormed:
		if result.QC != nil {
			e.metrics.CertificateFormed(QuorumCert)
			// share the certificate so lagging nodes catch up
			if err := e.sender.BroadcastQC(ctx, result.QC); err != nil {
				e.logger.Err(err).Msg("broadcasting quorum certificate")
			}
			return e.processQC(ctx, result.QC)
		}
		if result.TC != nil {
			e.metrics.CertificateFormed(TimeoutCert)
			if err := e.sender.BroadcastTC(ctx, result.TC); err != nil {
				e.logger.Err(err).Msg("broadcasting timeout certificate")
			}
			return e.processTC(ctx, result.TC)
		}
	}
	return nil
}

func (e *Engine) onCertificate(ctx context.Context, ev CertificateEvent) error {
	switch {
	case ev.QC != nil:
		if ev.QC.View < e.pacemaker.CurView() {
			return nil
		}
		if err := ev.QC.Verify(e.committee, e.namespace); err != nil {
			return fmt.Errorf("invalid quorum certificate: %w", err)
		}
		return e.processQC(ctx, ev.QC)
	case ev.TC != nil:
		if ev.TC.View < e.pacemaker.CurView() {
			return nil
		}
		if err := ev.TC.Verify(e.committee, e.namespace); err != nil {
			return fmt.Errorf("invalid timeout certificate: %w", err)
		}
		return e.processTC(ctx, ev.TC)
	default:
		return errors.New("certificate event carries neither certificate")
	}
}

// processQC runs a trusted QC through safety and the synchronizer. Callers
// must have verified the certificate (or formed it locally).
func (e *Engine) processQC(ctx context.Context, qc *QuorumCertificate) error {
	if qc == nil || qc.IsGenesis() {
		return nil
	}
	commits, err := e.safety.ProcessQC(qc)
	if err != nil {
		return err
	}
	e.deliverCommits(ctx, commits)

	viewEvent, err := e.pacemaker.ProcessQC(qc)
	if err != nil {
		return err
	}
	if viewEvent != nil {
		if err := e.execute(ctx, e.machine.Step(CertificateObserved{View: qc.View})); err != nil {
			return err
		}
		e.advanceHousekeeping(qc.View)
		e.bus.Publish(*viewEvent)
	}
	return nil
}

func (e *Engine) processTC(ctx context.Context, tc *TimeoutCertificate) error {
	if tc == nil {
		return nil
	}
	viewEvent, err := e.pacemaker.ProcessTC(tc)
	if err != nil {
		return err
	}
	if viewEvent != nil {
		if err := e.execute(ctx, e.machine.Step(CertificateObserved{View: tc.View})); err != nil {
			return err
		}
		e.advanceHousekeeping(tc.View)
		e.bus.Publish(*viewEvent)
	}
	return nil
}

// advanceHousekeeping prunes per-view state that can no longer matter once
// the node moved past the given view.
func (e *Engine) advanceHousekeeping(view uint64) {
	e.collectors.PruneUpTo(view)
	e.pending.pruneBelow(view)
	for v := range e.proposed {
		if v < view {
			delete(e.proposed, v)
		}
	}
}

func (e *Engine) deliverCommits(ctx context.Context, commits []CommitEvent) {
	for _, commit := range commits {
		id := commit.Leaf.ID()
		if rec, ok := e.seenAt[id]; ok {
			e.metrics.CommitLatency(time.Since(rec.at))
		}
		e.pruneSeen(commit.Leaf.View)
		e.metrics.LeafCommitted(commit.Leaf.View)
		e.logger.Info().
			Uint64("view", commit.Leaf.View).
			Str("leaf", commit.Leaf.ID().String()).
			Msg("leaf finalized")
		select {
		case e.finalized <- commit:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) pruneSeen(committedView uint64) {
	for id, rec := range e.seenAt {
		if rec.view <= committedView {
			delete(e.seenAt, id)
		}
	}
}

func (e *Engine) onTimer(ctx context.Context, view uint64) error {
	if view != e.pacemaker.CurView() {
		return nil
	}
	e.metrics.TimeoutRaised(view)
	return e.execute(ctx, e.machine.Step(TimerFired{View: view}))
}

func (e *Engine) onViewEntered(ctx context.Context, view uint64) error {
	e.metrics.ViewEntered(view)
	leading := e.signer != nil && equalID(e.committee.LeaderFor(view).ID(), e.signer.ID())
	if err := e.execute(ctx, e.machine.Step(ViewEntered{View: view, Leading: leading})); err != nil {
		return err
	}
	// the view's proposal may have arrived while we were still in the
	// previous view; vote for it now
	if p, ok := e.proposed[view]; ok {
		return e.maybeVote(ctx, p)
	}
	return nil
}

// execute performs the side effects the state machine asked for.
func (e *Engine) execute(ctx context.Context, actions []Action) error {
	for _, action := range actions {
		var err error
		switch a := action.(type) {
		case ProposeAction:
			err = e.propose(ctx, a.View)
		case VoteAction:
			err = e.vote(ctx, a.Proposal)
		case TimeoutAction:
			err = e.broadcastTimeout(ctx, a.View)
		case AdvanceAction:
			// the synchronizer already advanced when the certificate
			// was processed
		default:
			err = fmt.Errorf("unsupported action: %T", action)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) propose(ctx context.Context, view uint64) error {
	highQC := e.pacemaker.HighQC()
	parent := e.store.Get(highQC.Leaf)
	if parent == nil && !highQC.IsGenesis() {
		// we hold a QC for a leaf we never received; without the parent
		// we cannot extend the chain, so we let the view time out
		e.logger.Warn().Uint64("view", view).Str("leaf", highQC.Leaf.String()).
			Msg("missing leaf behind high QC, skipping proposal")
		return nil
	}

	payload, err := e.app.BuildPayload(ctx, view)
	if err != nil {
		return fmt.Errorf("building payload for view %d: %w", view, err)
	}

	var justifyTC *TimeoutCertificate
	if tc := e.pacemaker.LastViewTC(); tc != nil && view > highQC.View+1 {
		justifyTC = tc
	}
	leaf := NewLeaf(view, highQC.Leaf, payload, highQC, justifyTC)

	sig, err := e.signMsg(ctx, ProposalMsg, view, ProposalSignBytes(view, leaf.ID(), e.namespace))
	if err != nil {
		return err
	}
	proposal := &Proposal{Leaf: leaf, Signer: e.signer.ID(), Signature: sig}

	e.logger.Info().Uint64("view", view).Str("leaf", leaf.ID().String()).Msg("proposing")
	if err := e.sender.BroadcastProposal(ctx, proposal); err != nil {
		e.logger.Err(err).Msg("broadcasting proposal")
	}
	// loop our own proposal back through the regular pipeline so the
	// leader votes for it and tallies it like everyone else
	e.bus.Publish(ProposalEvent{Proposal: proposal})
	return nil
}

func (e *Engine) vote(ctx context.Context, p *Proposal) error {
	view := p.Leaf.View
	leafID := p.Leaf.ID()
	sig, err := e.signMsg(ctx, VoteMsg, view, VoteSignBytes(view, leafID, e.namespace))
	if err != nil {
		return err
	}
	vote := &Vote{View: view, Leaf: leafID, Signer: e.signer.ID(), Signature: sig}

	if err := e.sender.BroadcastVote(ctx, vote); err != nil {
		e.logger.Err(err).Msg("broadcasting vote")
	}
	e.bus.Publish(VoteEvent{Vote: vote})
	return nil
}

func (e *Engine) broadcastTimeout(ctx context.Context, view uint64) error {
	if e.signer == nil || !e.committee.IsMember(e.signer.ID(), view) {
		return nil
	}
	if e.lastTimeout != nil && e.lastTimeout.View == view {
		// rebroadcast tick: resend the signed vote, never re-sign
		if err := e.sender.BroadcastTimeoutVote(ctx, e.lastTimeout); err != nil {
			e.logger.Err(err).Msg("rebroadcasting timeout vote")
		}
		return nil
	}
	highQCView := e.pacemaker.HighQC().View
	sig, err := e.signMsg(ctx, TimeoutMsg, view, TimeoutSignBytes(view, highQCView, e.namespace))
	if err != nil {
		if errors.As(err, new(sign.ErrAlreadySigned)) {
			return nil
		}
		return err
	}
	vote := &TimeoutVote{View: view, HighQCView: highQCView, Signer: e.signer.ID(), Signature: sig}
	e.lastTimeout = vote

	e.logger.Info().Uint64("view", view).Uint64("high_qc", highQCView).Msg("view timed out, broadcasting timeout vote")
	if err := e.sender.BroadcastTimeoutVote(ctx, vote); err != nil {
		e.logger.Err(err).Msg("broadcasting timeout vote")
	}
	e.bus.Publish(TimeoutVoteEvent{Vote: vote})
	return nil
}

func (e *Engine) signMsg(ctx context.Context, kind MsgKind, view uint64, msg []byte) ([]byte, error) {
	if e.signer == nil {
		return nil, errors.New("node has no signer")
	}
	sig, err := e.signer.Sign(ctx, sign.Watermark{view, uint64(kind)}, msg)
	if err != nil {
		return nil, fmt.Errorf("signing %v message for view %d: %w", kind, view, err)
	}
	return sig, nil
}

// pendingVotes parks votes whose proposal has not arrived yet, bounded by
// a total vote budget. When full, the oldest leaf bucket is evicted whole.
type pendingVotes struct {
	limit    int
	count    int
	order    []Hash
	byLeaf   map[Hash][]*Vote
	bySigner map[string]Hash
}

func newPendingVotes(limit int) *pendingVotes {
	return &pendingVotes{
		limit:    limit,
		byLeaf:   make(map[Hash][]*Vote),
		bySigner: make(map[string]Hash),
	}
}

// park stores the vote, reporting whether an eviction was needed. A second
// vote by the same signer for the same leaf is dropped silently.
func (q *pendingVotes) park(v *Vote) (evicted bool) {
	key := string(v.Signer) + "/" + string(v.Leaf[:])
	if _, ok := q.bySigner[key]; ok {
		return false
	}
	for q.count >= q.limit && len(q.order) > 0 {
		oldest := q.order[0]
		q.order = q.order[1:]
		for _, old := range q.byLeaf[oldest] {
			delete(q.bySigner, string(old.Signer)+"/"+string(old.Leaf[:]))
		}
		q.count -= len(q.byLeaf[oldest])
		delete(q.byLeaf, oldest)
		evicted = true
	}
	if _, ok := q.byLeaf[v.Leaf]; !ok {
		q.order = append(q.order, v.Leaf)
	}
	q.byLeaf[v.Leaf] = append(q.byLeaf[v.Leaf], v)
	q.bySigner[key] = v.Leaf
	q.count++
	return evicted
}

// take removes and returns the votes parked for the leaf.
func (q *pendingVotes) take(leaf Hash) []*Vote {
	votes := q.byLeaf[leaf]
	if votes == nil {
		return nil
	}
	delete(q.byLeaf, leaf)
	q.count -= len(votes)
	for i, h := range q.order {
		if h == leaf {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	for _, v := range votes {
		delete(q.bySigner, string(v.Signer)+"/"+string(v.Leaf[:]))
	}
	return votes
}

// pruneBelow discards parked votes for views the node already left.
func (q *pendingVotes) pruneBelow(view uint64) {
	for leaf, votes := range q.byLeaf {
		kept := votes[:0]
		for _, v := range votes {
			if v.View >= view {
				kept = append(kept, v)
				continue
			}
			delete(q.bySigner, string(v.Signer)+"/"+string(v.Leaf[:]))
			q.count--
		}
		if len(kept) == 0 {
			delete(q.byLeaf, leaf)
			for i, h := range q.order {
				if h == leaf {
					q.order = append(q.order[:i], q.order[i+1:]...)
					break
				}
			}
			continue
		}
		q.byLeaf[leaf] = kept
	}
}
