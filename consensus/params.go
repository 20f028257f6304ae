package consensus

// Parameters are the protocol settings that every replica in a network
// must agree on. A mismatch between replicas does not fork the chain but
// will stall certificate formation, so deployments should treat these as
// part of the genesis configuration.
type Parameters struct {
	// Namespace domain-separates signatures so that votes from one
	// network can never be replayed on another. Required.
	Namespace string

	// CommitChainDepth is the number of consecutive-view certified
	// leaves required to finalize the oldest of them. The protocol
	// needs at least 2; the default of 3 gives the classic chained
	// commit rule.
	CommitChainDepth uint64

	// Timeout configures the view synchronizer's adaptive timeouts.
	Timeout TimeoutConfig

	// PendingVoteLimit bounds how many votes referencing not yet
	// received proposals are parked per view before the oldest are
	// evicted.
	PendingVoteLimit int

	// SubscriptionCapacity is the per-subscriber buffer on the event
	// bus. Overflow drops the oldest queued event.
	SubscriptionCapacity int
}

// DefaultParameters returns the settings used by the reference networks.
func DefaultParameters(namespace string) Parameters {
	return Parameters{
		Namespace:            namespace,
		CommitChainDepth:     3,
		Timeout:              DefaultTimeoutConfig(),
		PendingVoteLimit:     1024,
		SubscriptionCapacity: 256,
	}
}

// Validate checks the parameters are internally consistent.
func (p Parameters) Validate() error {
	if p.Namespace == "" {
		return NewConfigurationErrorf("namespace must not be empty")
	}
	if p.CommitChainDepth < 2 {
		return NewConfigurationErrorf("commit chain depth must be at least 2, got %d", p.CommitChainDepth)
	}
	if p.PendingVoteLimit <= 0 {
		return NewConfigurationErrorf("pending vote limit must be positive, got %d", p.PendingVoteLimit)
	}
	if p.SubscriptionCapacity <= 0 {
		return NewConfigurationErrorf("subscription capacity must be positive, got %d", p.SubscriptionCapacity)
	}
	return p.Timeout.Validate()
}
