// Package vectorindex implements the Vector Index Manager (C3): the
// abstract sync/query/maintenance capability set backed by a child
// embedding server, plus the manager that lifecycles that child process.
package vectorindex

import (
	"strconv"
	"strings"

	"github.com/sessionmemory/worker/pkg/parser"
)

// Document is one unit handed to the embedding server: a chunk of text,
// an identifier unique within the collection, and metadata mirroring a
// subset of the originating record.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

func baseMetadata(sqliteID int64, docType, project string, createdAtEpoch int64) map[string]any {
	return map[string]any{
		"sqlite_id":        sqliteID,
		"doc_type":         docType,
		"project":          project,
		"created_at_epoch": createdAtEpoch,
	}
}

// ObservationDocuments formats one Observation into its vector documents:
// one narrative document (if present), one per fact, following the
// identifier convention `obs_<id>_narrative`, `obs_<id>_fact_<i>` (spec
// §3, §4.3).
func ObservationDocuments(sqliteID int64, project string, obs parser.Observation, createdAtEpoch int64) []Document {
	var docs []Document

	if obs.Narrative != "" {
		meta := baseMetadata(sqliteID, "observation", project, createdAtEpoch)
		meta["field"] = "narrative"
		meta["type"] = obs.Type
		meta["title"] = obs.Title
		docs = append(docs, Document{
			ID:       idFor("obs", sqliteID, "narrative"),
			Text:     obs.Narrative,
			Metadata: meta,
		})
	}

	for i, fact := range obs.Facts {
		meta := baseMetadata(sqliteID, "observation", project, createdAtEpoch)
		meta["field"] = "fact"
		meta["fact_index"] = i
		meta["type"] = obs.Type
		meta["title"] = obs.Title
		docs = append(docs, Document{
			ID:       idFor("obs", sqliteID, "fact", i),
			Text:     fact,
			Metadata: meta,
		})
	}

	return docs
}

// summaryFields lists the up-to-six Summary fields that each become their
// own document when non-empty.
var summaryFields = []string{"request", "investigated", "learned", "completed", "next_steps", "notes"}

func summaryFieldValue(field string, sum parser.Summary) string {
	switch field {
	case "request":
		return sum.Request
	case "investigated":
		return sum.Investigated
	case "learned":
		return sum.Learned
	case "completed":
		return sum.Completed
	case "next_steps":
		return sum.NextSteps
	case "notes":
		return sum.Notes
	default:
		return ""
	}
}

// SummaryDocuments formats one Summary into up to six field documents,
// `summary_<id>_<field>`.
func SummaryDocuments(sqliteID int64, project string, sum parser.Summary, createdAtEpoch int64) []Document {
	var docs []Document
	for _, field := range summaryFields {
		value := summaryFieldValue(field, sum)
		if value == "" {
			continue
		}
		meta := baseMetadata(sqliteID, "summary", project, createdAtEpoch)
		meta["field"] = field
		docs = append(docs, Document{
			ID:       idFor("summary", sqliteID, field),
			Text:     value,
			Metadata: meta,
		})
	}
	return docs
}

// PromptDocument formats one UserPrompt into its single document,
// `prompt_<id>`.
func PromptDocument(sqliteID int64, project, text string, createdAtEpoch int64) Document {
	return Document{
		ID:       idFor("prompt", sqliteID),
		Text:     text,
		Metadata: baseMetadata(sqliteID, "prompt", project, createdAtEpoch),
	}
}

func idFor(parts ...any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case string:
			strs[i] = v
		case int64:
			strs[i] = strconv.FormatInt(v, 10)
		case int:
			strs[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(strs, "_")
}
