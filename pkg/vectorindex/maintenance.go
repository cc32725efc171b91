package vectorindex

import (
	"fmt"
	"sort"
	"strings"
)

// collectionPrefix is the naming convention every legitimate per-project
// collection follows; anything else is the embedding server's
// crash-corruption leftover.
const collectionPrefix = "cm__"

// CollectionName builds the conventional collection name for a project.
func CollectionName(project string) string {
	return collectionPrefix + project
}

// IdentifyOrphanedCollections returns every collection name in existing
// that does not follow the `cm__<project>` convention. Pure and
// fixture-driven so it can be unit-tested without a running embedding
// server.
func IdentifyOrphanedCollections(existing []string) []string {
	var orphans []string
	for _, name := range existing {
		if !strings.HasPrefix(name, collectionPrefix) || len(name) == len(collectionPrefix) {
			orphans = append(orphans, name)
		}
	}
	return orphans
}

// DocumentMeta is the minimal per-document metadata the retention-cap job
// needs: enough to group by source record and sort by recency.
type DocumentMeta struct {
	ID             string
	DocType        string
	SqliteID       int64
	CreatedAtEpoch int64
}

// sourceKey groups vector documents back to the source record they were
// derived from — a single observation can produce several documents
// (narrative + N facts) that must be pruned or kept together.
type sourceKey struct {
	docType  string
	sqliteID int64
}

// IdentifyDocumentsToPrune implements the retention cap:
// group docs by (doc_type, sqlite_id), sort groups by created_at_epoch
// descending, keep the first maxItems groups, and return the document IDs
// belonging to every group beyond that cap.
func IdentifyDocumentsToPrune(docs []DocumentMeta, maxItems int) []string {
	if maxItems <= 0 {
		return nil
	}

	groups := make(map[sourceKey][]DocumentMeta)
	var order []sourceKey
	for _, d := range docs {
		k := sourceKey{docType: d.DocType, sqliteID: d.SqliteID}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], d)
	}

	sort.Slice(order, func(i, j int) bool {
		return groupCreatedAt(groups, order[i]) > groupCreatedAt(groups, order[j])
	})

	if len(order) <= maxItems {
		return nil
	}

	var toPrune []string
	for _, k := range order[maxItems:] {
		for _, d := range groups[k] {
			toPrune = append(toPrune, d.ID)
		}
	}
	return toPrune
}

func groupCreatedAt(groups map[sourceKey][]DocumentMeta, k sourceKey) int64 {
	g := groups[k]
	if len(g) == 0 {
		return 0
	}
	return g[0].CreatedAtEpoch
}

// String describes a source key for logging.
func (k sourceKey) String() string {
	return fmt.Sprintf("%s:%d", k.docType, k.sqliteID)
}
