package registry

import (
	"time"

	"github.com/trovehq/trove/pkg/ident"
)

// HistoryEntry links one artifact version to the blob hash and the
// principal/time that produced it. Entries are immutable once appended. A
// nil hash denotes a metadata-only version with no stored blob.
type HistoryEntry struct {
	Hash      *string   `json:"hash"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is one logical binary attachment scoped under an
// org:project:branch chain. The current blob is always the last history
// entry's hash; the same hash may appear in the history of many artifacts.
type Artifact struct {
	Meta
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Custom      map[string]string `json:"custom,omitempty"`
	History     []HistoryEntry    `json:"history"`
}

// ParentOrgID returns the owning organization's identifier.
func (a *Artifact) ParentOrgID() string {
	return ident.OrgID(a.ID)
}

// BranchID returns the owning branch's identifier.
func (a *Artifact) BranchID() string {
	return ident.BranchID(a.ID)
}

// ProjectID returns the owning project's identifier.
func (a *Artifact) ProjectID() string {
	return ident.ProjectID(a.ID)
}

// CurrentHash returns the hash of the artifact's current blob, or nil for a
// metadata-only artifact.
func (a *Artifact) CurrentHash() *string {
	if len(a.History) == 0 {
		return nil
	}
	return a.History[len(a.History)-1].Hash
}

// AppendHistory records a new version. Earlier entries are never mutated.
func (a *Artifact) AppendHistory(hash *string, user string, now time.Time) {
	a.History = append(a.History, HistoryEntry{Hash: hash, User: user, Timestamp: now})
	a.LastModifiedBy = user
	a.UpdatedOn = now
}

// DistinctHashes returns the set of non-nil hashes referenced anywhere in
// the artifact's history.
func (a *Artifact) DistinctHashes() []string {
	seen := make(map[string]struct{})
	var hashes []string
	for _, entry := range a.History {
		if entry.Hash == nil {
			continue
		}
		if _, ok := seen[*entry.Hash]; ok {
			continue
		}
		seen[*entry.Hash] = struct{}{}
		hashes = append(hashes, *entry.Hash)
	}
	return hashes
}
