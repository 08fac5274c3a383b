package session

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN — sessions are designed
// for direct P2P connectivity with zero infrastructure cost.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with Google STUN servers.
func newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates the game message channel on the given PeerConnection.
// The default channel is unordered with zero retransmits: the protocol is
// deliberately lossy, and stale entity state is worse than lost entity state.
// Ordered mode trades that for head-of-line blocking.
func newDataChannel(pc *webrtc.PeerConnection, ordered bool) (*webrtc.DataChannel, error) {
	init := &webrtc.DataChannelInit{Ordered: &ordered}
	if !ordered {
		retransmits := uint16(0)
		init.MaxRetransmits = &retransmits
	}
	return pc.CreateDataChannel("game", init)
}
