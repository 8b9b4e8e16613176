// Package changedetector implements detect_changes/index_changes from
// spec.md §4.2: diffing the current filesystem snapshot against the
// previously-indexed file-state rows to produce a ChangeSet.
package changedetector

import (
	"fmt"

	"github.com/semindex/semindex/internal/filestate"
	"github.com/semindex/semindex/internal/fingerprint"
	"github.com/semindex/semindex/internal/model"
)

// fullReindexThreshold is the change-ratio above which requires_full_reindex
// is set (spec.md §4.2). Advisory only — see DESIGN.md Open Question 5.
const fullReindexThreshold = 0.5

// Detector runs detect_changes against one folder's file-state store.
type Detector struct {
	store filestate.Store
}

func New(store filestate.Store) *Detector {
	return &Detector{store: store}
}

// DetectChanges walks folderPath, honoring excludeGlobs, and diffs the
// result against the store's INDEXED rows.
func (d *Detector) DetectChanges(folderPath string, excludeGlobs []string) (model.ChangeSet, error) {
	current, err := fingerprint.Walk(folderPath, excludeGlobs)
	if err != nil {
		return model.ChangeSet{}, fmt.Errorf("changedetector: walk %s: %w", folderPath, err)
	}

	previousRows, err := d.store.ListFileStatesByState(model.StateIndexed)
	if err != nil {
		return model.ChangeSet{}, fmt.Errorf("changedetector: list indexed rows: %w", err)
	}
	previousHash := make(map[string]string, len(previousRows))
	for _, row := range previousRows {
		previousHash[row.FilePath] = row.ContentHash
	}

	currentByPath := make(map[string]model.Fingerprint, len(current))
	for _, fp := range current {
		currentByPath[fp.RelativePath] = fp
	}

	return BuildChangeSet(currentByPath, previousHash), nil
}

// BuildChangeSet computes the quadripartite partition directly from a
// current-snapshot map and a previous {path: content_hash} map, so the
// diffing logic can be exercised and tested without a real filesystem or
// store.
func BuildChangeSet(currentByPath map[string]model.Fingerprint, previousHash map[string]string) model.ChangeSet {
	var set model.ChangeSet

	for path, fp := range currentByPath {
		prevHash, existed := previousHash[path]
		switch {
		case !existed:
			set.New = append(set.New, fp)
		case prevHash != fp.ContentHash:
			set.Modified = append(set.Modified, fp)
		default:
			set.Unchanged = append(set.Unchanged, fp)
		}
	}

	for path := range previousHash {
		if _, stillPresent := currentByPath[path]; !stillPresent {
			set.Deleted = append(set.Deleted, model.Fingerprint{RelativePath: path})
		}
	}

	total := len(set.New) + len(set.Modified) + len(set.Deleted)
	denom := len(currentByPath)
	if len(previousHash) > denom {
		denom = len(previousHash)
	}
	if denom == 0 {
		denom = 1
	}
	set.Summary = model.ChangeSummary{
		TotalChanges:        total,
		RequiresFullReindex: float64(total)/float64(denom) > fullReindexThreshold,
	}
	return set
}
