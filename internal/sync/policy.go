package sync

// ConflictPolicy decides which version of a row wins when both sides changed
// it since their last sync.
type ConflictPolicy string

const (
	// PolicyServerWins keeps the server version.
	PolicyServerWins ConflictPolicy = "server_wins"

	// PolicyClientWins keeps the client version.
	PolicyClientWins ConflictPolicy = "client_wins"

	// PolicyLastWriterWins keeps the version with the later modification
	// time. Ties go to the server.
	PolicyLastWriterWins ConflictPolicy = "last_writer_wins"

	// PolicyCustom delegates to the ConflictArgs interceptor.
	PolicyCustom ConflictPolicy = "custom"
)

// DefaultPolicy is used when none is configured.
const DefaultPolicy = PolicyLastWriterWins

// IsValid returns true if the policy is recognized.
func (p ConflictPolicy) IsValid() bool {
	switch p {
	case PolicyServerWins, PolicyClientWins, PolicyLastWriterWins, PolicyCustom:
		return true
	default:
		return false
	}
}

// AllPolicies returns all supported conflict policies.
func AllPolicies() []ConflictPolicy {
	return []ConflictPolicy{PolicyServerWins, PolicyClientWins, PolicyLastWriterWins, PolicyCustom}
}

// String returns the string representation of the policy.
func (p ConflictPolicy) String() string {
	return string(p)
}

// Description returns a human-readable description of the policy.
func (p ConflictPolicy) Description() string {
	switch p {
	case PolicyServerWins:
		return "Keep the server version of a conflicting row"
	case PolicyClientWins:
		return "Keep the client version of a conflicting row"
	case PolicyLastWriterWins:
		return "Keep the most recently modified version, the server on ties"
	case PolicyCustom:
		return "Resolve each conflict with a registered handler"
	default:
		return "Unknown policy"
	}
}
