package syncer

import (
	"github.com/harborml/drivesearch/internal/models"
)

// updatePair couples a stored document with the remote file that supersedes it.
type updatePair struct {
	doc  models.Document
	file models.RemoteFile
}

// syncDiff is the three-way reconciliation of stored documents against the
// remote listing.
type syncDiff struct {
	toAdd    []models.RemoteFile
	toUpdate []updatePair
	toDelete []models.Document
}

// computeDiff compares documents (keyed by external file id) with the remote
// listing. A document re-indexes when its stored timestamp is strictly older
// than the remote one; since the placeholder timestamp is the epoch, any
// half-indexed document is picked up again automatically. Equal timestamps
// mean no update.
func computeDiff(docs []models.Document, files []models.RemoteFile) syncDiff {
	byFileID := make(map[string]models.Document, len(docs))
	for _, d := range docs {
		byFileID[d.ExternalFileID] = d
	}

	var d syncDiff
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.ID] = true
		doc, ok := byFileID[f.ID]
		if !ok {
			d.toAdd = append(d.toAdd, f)
			continue
		}
		if doc.SourceModifiedTime.Before(f.ModifiedTime) {
			d.toUpdate = append(d.toUpdate, updatePair{doc: doc, file: f})
		}
	}
	for _, doc := range docs {
		if !seen[doc.ExternalFileID] {
			d.toDelete = append(d.toDelete, doc)
		}
	}
	return d
}

// deletionGuardTriggered decides whether a computed deletion batch looks like
// a transient API or permissions failure rather than real removals. The guard
// is all-or-nothing: when it fires, the whole batch is discarded.
func deletionGuardTriggered(storedCount, remoteCount, deleteCount int) bool {
	if deleteCount == 0 {
		return false
	}
	// A populated library and an empty listing is almost certainly a glitch.
	if storedCount >= 5 && remoteCount == 0 {
		return true
	}
	// Mass deletion: more than 80% of the library and more than 5 documents.
	if deleteCount > 5 && deleteCount*100 > storedCount*80 {
		return true
	}
	return false
}
