package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentifyOrphanedCollections(t *testing.T) {
	existing := []string{"cm__myproject", "cm__other-project", "junk-collection", "cm__", "default"}
	orphans := IdentifyOrphanedCollections(existing)
	require.ElementsMatch(t, []string{"junk-collection", "cm__", "default"}, orphans)
}

func TestIdentifyDocumentsToPruneKeepsMostRecent(t *testing.T) {
	docs := []DocumentMeta{
		{ID: "obs_1_narrative", DocType: "observation", SqliteID: 1, CreatedAtEpoch: 300},
		{ID: "obs_1_fact_0", DocType: "observation", SqliteID: 1, CreatedAtEpoch: 300},
		{ID: "obs_2_narrative", DocType: "observation", SqliteID: 2, CreatedAtEpoch: 200},
		{ID: "obs_3_narrative", DocType: "observation", SqliteID: 3, CreatedAtEpoch: 100},
	}
	pruned := IdentifyDocumentsToPrune(docs, 2)
	require.ElementsMatch(t, []string{"obs_3_narrative"}, pruned)
}

func TestIdentifyDocumentsToPruneUnderCapIsNoop(t *testing.T) {
	docs := []DocumentMeta{
		{ID: "a", DocType: "observation", SqliteID: 1, CreatedAtEpoch: 100},
	}
	require.Nil(t, IdentifyDocumentsToPrune(docs, 5))
}

func TestIdentifyDocumentsToPruneZeroCapPrunesNothing(t *testing.T) {
	docs := []DocumentMeta{{ID: "a", DocType: "observation", SqliteID: 1, CreatedAtEpoch: 100}}
	require.Nil(t, IdentifyDocumentsToPrune(docs, 0))
}
