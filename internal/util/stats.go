package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide network traffic counter.
var Stats = &stats{}

type stats struct {
	MessagesSent atomic.Int64 // protocol messages handed to a channel
	MessagesRecv atomic.Int64 // protocol messages decoded from a channel
	BytesSent    atomic.Int64 // bytes written to DataChannels
	BytesRecv    atomic.Int64 // bytes read from DataChannels
	Batches      atomic.Int64 // priority batches flushed
	Relayed      atomic.Int64 // frames relayed to other peers (host only)
}

func (s *stats) AddSent(messages, bytes int) {
	s.MessagesSent.Add(int64(messages))
	s.BytesSent.Add(int64(bytes))
}

func (s *stats) AddRecv(bytes int) {
	s.MessagesRecv.Add(1)
	s.BytesRecv.Add(int64(bytes))
}

func (s *stats) AddBatch()   { s.Batches.Add(1) }
func (s *stats) AddRelayed() { s.Relayed.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics every
// 10 seconds while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevSentB, prevRecvB int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.MessagesSent.Load()
				recv := Stats.MessagesRecv.Load()
				sentB := Stats.BytesSent.Load()
				recvB := Stats.BytesRecv.Load()

				outMsg := float64(sent-prevSent) / 10.0
				inMsg := float64(recv-prevRecv) / 10.0
				outB := float64(sentB-prevSentB) / 10.0
				inB := float64(recvB-prevRecvB) / 10.0

				if outMsg > 0 || inMsg > 0 {
					pterm.DefaultLogger.Info(formatStats(outMsg, inMsg, outB, inB))
				}

				prevSent = sent
				prevRecv = recv
				prevSentB = sentB
				prevRecvB = recvB

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outMsg, inMsg, outB, inB float64) string {
	return fmt.Sprintf("Out: %5.1f msg/s (%s/s) | In: %5.1f msg/s (%s/s)",
		outMsg,
		formatBytes(outB),
		inMsg,
		formatBytes(inB),
	)
}
