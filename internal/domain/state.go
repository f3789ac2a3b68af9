package domain

// CartridgeState is the position of a cartridge in its sync pipeline.
type CartridgeState int

const (
	StateDiscovered CartridgeState = iota
	StatePackaging
	StateDeploying
	StateWatching
	StateTerminated
	StateFailed
)

// String returns a human-readable representation of the state.
func (s CartridgeState) String() string {
	switch s {
	case StateDiscovered:
		return "Discovered"
	case StatePackaging:
		return "Packaging"
	case StateDeploying:
		return "Deploying"
	case StateWatching:
		return "Watching"
	case StateTerminated:
		return "Terminated"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Final reports whether no further transitions are possible.
func (s CartridgeState) Final() bool {
	return s == StateTerminated || s == StateFailed
}
