package util

// ShortID returns a compact prefix of a peer id for log lines. Full uuids
// drown out everything else at default terminal widths.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
