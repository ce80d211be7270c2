package grouping

import (
	"fmt"
	"strings"

	"milk-ticket-backend/internal/ingest"
)

// AnchorPolicy decides what happens to a batch that has more than one
// unloaded row.
type AnchorPolicy int

const (
	// AnchorReject drops the whole batch as malformed.
	AnchorReject AnchorPolicy = iota
	// AnchorFirstSeen keeps the first unloaded row in source order.
	AnchorFirstSeen
)

// ParseAnchorPolicy maps the config value to a policy.
func ParseAnchorPolicy(v string) (AnchorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "reject":
		return AnchorReject, nil
	case "first", "first_seen":
		return AnchorFirstSeen, nil
	}
	return AnchorReject, fmt.Errorf("unknown anchor policy %q", v)
}

func (p AnchorPolicy) String() string {
	if p == AnchorFirstSeen {
		return "first"
	}
	return "reject"
}

// Group is one load batch: the unloading row and the farm pickups that
// went into it.
type Group struct {
	LoadBatchID string
	Anchor      ingest.TransactionRecord
	Loaded      []ingest.TransactionRecord
}

// Result is the outcome of grouping one export.
type Result struct {
	// Groups are complete batches in order of first appearance.
	Groups []Group
	// Incomplete holds batch ids seen without an unloaded row.
	Incomplete []string
	// Ambiguous holds batch ids rejected for carrying several unloaded rows.
	Ambiguous []string
}

type bucket struct {
	anchors []ingest.TransactionRecord
	loaded  []ingest.TransactionRecord
}

// GroupRecords partitions records by load batch id. Output follows the
// first appearance of each batch id in records.
func GroupRecords(records []ingest.TransactionRecord, policy AnchorPolicy) Result {
	buckets := make(map[string]*bucket)
	var order []string

	for _, rec := range records {
		b, ok := buckets[rec.LoadBatchID]
		if !ok {
			b = &bucket{}
			buckets[rec.LoadBatchID] = b
			order = append(order, rec.LoadBatchID)
		}
		if rec.State == ingest.StateUnloaded {
			b.anchors = append(b.anchors, rec)
		} else {
			b.loaded = append(b.loaded, rec)
		}
	}

	var res Result
	for _, id := range order {
		b := buckets[id]
		switch {
		case len(b.anchors) == 0:
			res.Incomplete = append(res.Incomplete, id)
			continue
		case len(b.anchors) > 1 && policy == AnchorReject:
			res.Ambiguous = append(res.Ambiguous, id)
			continue
		}
		res.Groups = append(res.Groups, Group{
			LoadBatchID: id,
			Anchor:      b.anchors[0],
			Loaded:      b.loaded,
		})
	}
	return res
}
