// Package docid parses and builds the composite document identifiers used
// throughout the storage manager.
//
// A docId is an opaque string matching [-=_\w~%]+. It may additionally encode
// up to four components — a trunk id, a fork id, a fork owner's user id, and a
// snapshot id — in a single URL-safe string. Identifiers that differ only in
// their snapshot component address the same underlying document; the
// snapshot id only selects which historical version a read should see.
package docid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// validPattern matches the legal character class for any docId component.
var validPattern = regexp.MustCompile(`^[-=_\w~%]+$`)

// NewDocumentCode is the sentinel trunk id meaning "this fork has no trunk
// content yet, create a blank document". It is never a real docId.
const NewDocumentCode = "new"

// Deleted is the sentinel value stored as a worker directory docMD5 for a
// document that has been permanently removed from remote storage.
const Deleted = "DELETED"

// separators used to splice fork/snapshot components onto a trunk id. These
// mirror grist-core's urlId encoding: "~" precedes a fork id, and a second
// "~" followed by the numeric fork-owner user id, and "=" precedes a
// snapshot id. All are drawn from the same legal character class so the
// composite string round-trips through Parse/Build without escaping.
const (
	forkSep     = "~"
	snapshotSep = "="
)

// ID is a parsed docId, split into its trunk/fork/snapshot components.
//
// Trunk is always set to the base document id (equal to the whole string for
// a plain, non-forked docId). Fork and ForkUserId are set only for a forked
// document; SnapshotId is set only when the identifier addresses a specific
// historical version.
type ID struct {
	Raw        string
	TrunkID    string
	ForkID     string
	ForkUserID *int
	SnapshotID string
}

// IsFork reports whether this id addresses a forked document.
func (id ID) IsFork() bool { return id.ForkID != "" }

// IsSnapshot reports whether this id addresses a specific historical version.
func (id ID) IsSnapshot() bool { return id.SnapshotID != "" }

// WithoutSnapshot returns the same identifier with its snapshot component
// stripped, i.e. the id under which the object is actually stored remotely.
func (id ID) WithoutSnapshot() string {
	if id.SnapshotID == "" {
		return id.Raw
	}
	cut := Build(id.TrunkID, id.ForkID, id.ForkUserID, "")
	return cut
}

// Validate checks that a raw docId string uses only legal characters.
//
// This is the eager check spec.md §7 calls InvalidDocId: every path-forming
// call validates the docId before doing any I/O.
func Validate(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty docId", ErrInvalidDocID)
	}
	if !validPattern.MatchString(raw) {
		return fmt.Errorf("%w: %q contains characters outside [-=_\\w~%%]+", ErrInvalidDocID, raw)
	}
	return nil
}

// Parse validates and decomposes a docId into its trunk/fork/snapshot
// components.
//
// The encoding recognized is trunkId[~forkId[~forkUserId]][=snapshotId]. A
// plain docId with none of these separators parses as a bare trunk id with
// no fork and no snapshot, which is the overwhelmingly common case.
func Parse(raw string) (ID, error) {
	if err := Validate(raw); err != nil {
		return ID{}, err
	}

	rest := raw
	snapshotID := ""
	if idx := strings.LastIndex(rest, snapshotSep); idx >= 0 {
		snapshotID = rest[idx+1:]
		rest = rest[:idx]
	}

	trunk := rest
	forkID := ""
	var forkUserID *int
	if idx := strings.Index(rest, forkSep); idx >= 0 {
		trunk = rest[:idx]
		tail := rest[idx+1:]
		if idx2 := strings.Index(tail, forkSep); idx2 >= 0 {
			forkID = tail[:idx2]
			uidStr := tail[idx2+1:]
			uid, err := strconv.Atoi(uidStr)
			if err != nil {
				return ID{}, fmt.Errorf("%w: invalid fork user id %q", ErrInvalidDocID, uidStr)
			}
			forkUserID = &uid
		} else {
			forkID = tail
		}
	}

	if trunk == "" {
		return ID{}, fmt.Errorf("%w: missing trunk id in %q", ErrInvalidDocID, raw)
	}

	return ID{
		Raw:        raw,
		TrunkID:    trunk,
		ForkID:     forkID,
		ForkUserID: forkUserID,
		SnapshotID: snapshotID,
	}, nil
}

// Build assembles a composite docId from its parts. Pass an empty forkID and
// a nil forkUserID for a plain trunk id, and an empty snapshotID to address
// the current version.
func Build(trunkID, forkID string, forkUserID *int, snapshotID string) string {
	var b strings.Builder
	b.WriteString(trunkID)
	if forkID != "" {
		b.WriteString(forkSep)
		b.WriteString(forkID)
		if forkUserID != nil {
			b.WriteString(forkSep)
			b.WriteString(strconv.Itoa(*forkUserID))
		}
	}
	if snapshotID != "" {
		b.WriteString(snapshotSep)
		b.WriteString(snapshotID)
	}
	return b.String()
}

// CanCreateFork reports whether a caller with the given userId may lazily
// materialize the fork described by id. A fork with no owner restriction
// (ForkUserID == nil) may be created by anyone; otherwise only the owning
// user may create it.
func CanCreateFork(id ID, callerUserID int) bool {
	return id.ForkUserID == nil || *id.ForkUserID == callerUserID
}
