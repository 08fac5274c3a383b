package signal

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

const sampleSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// TestBlobRoundTrip verifies that encoding and decoding a descriptor are
// inverse operations for both offer and answer types.
func TestBlobRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		desc webrtc.SessionDescription
	}{
		{"offer", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sampleSDP}},
		{"answer", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sampleSDP}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := encodeBlob(&tc.desc)
			if err != nil {
				t.Fatalf("encodeBlob failed: %v", err)
			}

			decoded, err := decodeBlob(blob)
			if err != nil {
				t.Fatalf("decodeBlob failed: %v", err)
			}
			if decoded.Type != tc.desc.Type {
				t.Errorf("Type mismatch: got %s, want %s", decoded.Type, tc.desc.Type)
			}
			if decoded.SDP != tc.desc.SDP {
				t.Errorf("SDP mismatch: got %q, want %q", decoded.SDP, tc.desc.SDP)
			}
		})
	}
}

// TestDecodeBlobTrimsWhitespace verifies that surrounding whitespace from a
// sloppy paste does not break decoding.
func TestDecodeBlobTrimsWhitespace(t *testing.T) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sampleSDP}
	blob, err := encodeBlob(&desc)
	if err != nil {
		t.Fatalf("encodeBlob failed: %v", err)
	}

	decoded, err := decodeBlob("  \n\t" + blob + "\r\n ")
	if err != nil {
		t.Fatalf("decodeBlob failed on padded blob: %v", err)
	}
	if decoded.SDP != sampleSDP {
		t.Errorf("SDP mismatch after trim: got %q", decoded.SDP)
	}
}

// TestDecodeBlobMalformed verifies that unusable blobs are reported as
// negotiation errors rather than crashing or passing through.
func TestDecodeBlobMalformed(t *testing.T) {
	testCases := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"not base64", "!!! definitely not base64 !!!"},
		{"base64 of garbage", base64.StdEncoding.EncodeToString([]byte("not json"))},
		{"base64 of empty object", base64.StdEncoding.EncodeToString([]byte("{}"))},
		{"truncated", base64.StdEncoding.EncodeToString([]byte(`{"type":"offer","sdp":`))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeBlob(tc.blob)
			if err == nil {
				t.Fatal("Expected error for malformed blob, got nil")
			}
			if !errors.Is(err, ErrNegotiation) {
				t.Errorf("Expected ErrNegotiation, got %v", err)
			}
		})
	}
}

// TestEncodeBlobNilDescription verifies that a missing local description is
// caught before producing an empty blob.
func TestEncodeBlobNilDescription(t *testing.T) {
	_, err := encodeBlob(nil)
	if err == nil {
		t.Fatal("Expected error for nil description, got nil")
	}
	if !errors.Is(err, ErrNegotiation) {
		t.Errorf("Expected ErrNegotiation, got %v", err)
	}
}
