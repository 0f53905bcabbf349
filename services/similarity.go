package services

import "time"

// DefaultSimilarityThreshold is the maximum hamming distance at which
// two garment photos are still treated as the same garment.
const DefaultSimilarityThreshold = 5

// HistoryEntry is the slice of an outfit history row the similarity scan
// needs. Callers load these newest-first.
type HistoryEntry struct {
	ID          uint
	Fingerprint Fingerprint
	CreatedAt   time.Time
}

// CandidateMatch points at the history entry closest to the probe.
type CandidateMatch struct {
	EntryID  uint
	Distance int
}

// FindMatch scans entries for the fingerprint nearest to fp within
// threshold bits. Entries are expected newest-first; on equal distance
// the entry seen first (the newer one) keeps the match. Returns nil when
// nothing is close enough or the history is empty.
func FindMatch(entries []HistoryEntry, fp Fingerprint, threshold int) *CandidateMatch {
	if threshold < 0 {
		threshold = DefaultSimilarityThreshold
	}
	var best *CandidateMatch
	for _, e := range entries {
		d := fp.Distance(e.Fingerprint)
		if d > threshold {
			continue
		}
		if best == nil || d < best.Distance {
			best = &CandidateMatch{EntryID: e.ID, Distance: d}
			if d == 0 {
				break
			}
		}
	}
	return best
}
