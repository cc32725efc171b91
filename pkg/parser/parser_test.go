package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSingleObservation(t *testing.T) {
	reply := `
Here is what I found:
<observation>
  <type>discovery</type>
  <title>Found the bug</title>
  <narrative>The off-by-one was in the loop bound.</narrative>
  <facts><fact>loop bound was len(x)</fact><fact>fixed to len(x)-1</fact></facts>
  <files_modified><file>pkg/foo/bar.go</file></files_modified>
</observation>
`
	result := Parse(reply)
	require.Len(t, result.Observations, 1)
	obs := result.Observations[0]
	require.Equal(t, "discovery", obs.Type)
	require.Equal(t, "Found the bug", obs.Title)
	require.Equal(t, []string{"loop bound was len(x)", "fixed to len(x)-1"}, obs.Facts)
	require.Equal(t, []string{"pkg/foo/bar.go"}, obs.FilesModified)
	require.Nil(t, result.Summary)
}

func TestParseMultipleObservationsPreserveOrder(t *testing.T) {
	reply := `<observation><title>first</title></observation><observation><title>second</title></observation>`
	result := Parse(reply)
	require.Len(t, result.Observations, 2)
	require.Equal(t, "first", result.Observations[0].Title)
	require.Equal(t, "second", result.Observations[1].Title)
}

func TestParseSummaryOnlySecondIgnored(t *testing.T) {
	reply := `
<summary>
  <request>fix the bug</request>
  <completed>fixed it</completed>
</summary>
<summary><request>duplicate, should be ignored</request></summary>
`
	result := Parse(reply)
	require.NotNil(t, result.Summary)
	require.Equal(t, "fix the bug", result.Summary.Request)
	require.Equal(t, "fixed it", result.Summary.Completed)
}

func TestParseToleratesUnknownElementsAndProse(t *testing.T) {
	reply := `Some preamble text the model shouldn't have emitted.
<response>
<observation><title>note</title><unknown_field>ignored</unknown_field></observation>
</response>
Trailing commentary.`
	result := Parse(reply)
	require.Len(t, result.Observations, 1)
	require.Equal(t, "note", result.Observations[0].Title)
}

func TestParseEmptyReplyYieldsNothing(t *testing.T) {
	result := Parse("")
	require.Empty(t, result.Observations)
	require.Nil(t, result.Summary)
}
