// Package config holds the CLI configuration types.
package config

// Role represents the user's chosen role (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Signaling selects how session descriptors travel between peers.
type Signaling string

const (
	// SignalingExchange automates the descriptor handoff over WebSocket:
	// the host runs a small exchange server, clients dial it with a PIN.
	SignalingExchange Signaling = "exchange"
	// SignalingManual prints and reads base64 descriptor blobs; the
	// operator ferries them over any side channel.
	SignalingManual Signaling = "manual"
)

// Config stores all parameters gathered from CLI flags or the interactive
// prompts.
type Config struct {
	Role       Role
	Signaling  Signaling
	PlayerName string

	ExchangeAddr string // Host: exchange server listen address
	JoinURL      string // Client: exchange URL to dial
}
