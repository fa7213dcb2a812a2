package inter

// SlashState tags why an account is carried in a BlockInfo's slashed map.
// Once an account is slashed it persists forward (invariant 5) until its
// pledge change has been fully returned.
type SlashState uint8

const (
	// SlashNone means the account is not slashed (the zero value; not
	// normally present as a map entry, but useful as a default).
	SlashNone SlashState = iota
	// SlashDoubleSign marks an account caught signing two conflicting
	// blocks/events at the same height.
	SlashDoubleSign
	// SlashOther marks any other provable misbehavior.
	SlashOther
	// SlashAlreadySlashed marks an account carried forward from a prior
	// epoch's DoubleSign/Other slash, once the epoch boundary has passed.
	SlashAlreadySlashed
)

func (s SlashState) String() string {
	switch s {
	case SlashDoubleSign:
		return "double_sign"
	case SlashOther:
		return "other"
	case SlashAlreadySlashed:
		return "already_slashed"
	default:
		return "none"
	}
}

// KickoutReasonKind enumerates why a validator is absent from the next
// validator set.
type KickoutReasonKind uint8

const (
	// KickoutSlashed covers accounts already in the slashed map.
	KickoutSlashed KickoutReasonKind = iota
	// KickoutUnpledge covers accounts whose pledge proposal dropped to
	// zero while they still had a non-zero pledge change.
	KickoutUnpledge
	// KickoutNotEnoughBlocks covers block-producer underproduction.
	KickoutNotEnoughBlocks
	// KickoutNotEnoughChunks covers chunk-producer underproduction.
	KickoutNotEnoughChunks
)

// KickoutReason records why a validator was kicked out, plus the
// produced/expected counters that justify NotEnoughBlocks/NotEnoughChunks.
type KickoutReason struct {
	Kind     KickoutReasonKind
	Produced uint64
	Expected uint64
}

func (r KickoutReason) String() string {
	switch r.Kind {
	case KickoutSlashed:
		return "slashed"
	case KickoutUnpledge:
		return "unpledge"
	case KickoutNotEnoughBlocks:
		return "not_enough_blocks"
	case KickoutNotEnoughChunks:
		return "not_enough_chunks"
	default:
		return "unknown"
	}
}
