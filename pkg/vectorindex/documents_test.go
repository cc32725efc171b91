package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sessionmemory/worker/pkg/parser"
)

func TestObservationDocumentsNarrativeAndFacts(t *testing.T) {
	obs := parser.Observation{
		Type:      "discovery",
		Title:     "found it",
		Narrative: "the narrative",
		Facts:     []string{"fact one", "fact two"},
	}
	docs := ObservationDocuments(42, "proj", obs, 1000)
	require.Len(t, docs, 3)
	require.Equal(t, "obs_42_narrative", docs[0].ID)
	require.Equal(t, "obs_42_fact_0", docs[1].ID)
	require.Equal(t, "obs_42_fact_1", docs[2].ID)
	require.Equal(t, "proj", docs[0].Metadata["project"])
	require.Equal(t, int64(42), docs[0].Metadata["sqlite_id"])
}

func TestObservationDocumentsSkipsEmptyNarrative(t *testing.T) {
	obs := parser.Observation{Facts: []string{"only fact"}}
	docs := ObservationDocuments(1, "proj", obs, 0)
	require.Len(t, docs, 1)
	require.Equal(t, "obs_1_fact_0", docs[0].ID)
}

func TestSummaryDocumentsOnlyNonEmptyFields(t *testing.T) {
	sum := parser.Summary{Request: "do the thing", Completed: "did it"}
	docs := SummaryDocuments(7, "proj", sum, 500)
	require.Len(t, docs, 2)
	require.Equal(t, "summary_7_request", docs[0].ID)
	require.Equal(t, "summary_7_completed", docs[1].ID)
}

func TestPromptDocument(t *testing.T) {
	doc := PromptDocument(3, "proj", "hello", 10)
	require.Equal(t, "prompt_3", doc.ID)
	require.Equal(t, "hello", doc.Text)
}
