package signal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Descriptor blobs are base64-wrapped JSON session descriptions with every
// gathered ICE candidate embedded: one paste-safe string per direction, no
// trickle. The blob is opaque to whatever carries it and must round-trip
// byte-for-byte.

// encodeBlob serializes a local description into a descriptor blob.
func encodeBlob(desc *webrtc.SessionDescription) (string, error) {
	if desc == nil {
		return "", fmt.Errorf("%w: no local description", ErrNegotiation)
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("%w: encode description: %v", ErrNegotiation, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// decodeBlob parses a descriptor blob back into a session description.
// Surrounding whitespace is tolerated; terminals love trailing newlines.
func decodeBlob(blob string) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return desc, fmt.Errorf("%w: decode blob: %v", ErrNegotiation, err)
	}
	if err := json.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("%w: parse description: %v", ErrNegotiation, err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: empty description", ErrNegotiation)
	}
	return desc, nil
}
