// Package parser converts a provider's XML-structured reply into
// observation and summary records (C5's input stage). There is no XML
// library anywhere in the example pack's dependency surface, so this
// leans on the standard library's encoding/xml rather than reaching for
// an out-of-pack dependency — the one part of this module built on the
// standard library by necessity rather than by choice.
package parser

import (
	"encoding/xml"
	"strings"
)

// Observation is the parsed form of one <observation> element.
type Observation struct {
	Type          string
	Title         string
	Subtitle      string
	Narrative     string
	Facts         []string
	Concepts      []string
	FilesRead     []string
	FilesModified []string
}

// Summary is the parsed form of one <summary> element.
type Summary struct {
	Request     string
	Investigated string
	Learned     string
	Completed   string
	NextSteps   string
	Notes       string
}

// Result is everything recovered from one provider reply.
type Result struct {
	Observations []Observation
	Summary      *Summary
}

// rawObservation and rawSummary are the decode shapes of single
// <observation> and <summary> elements. The provider is asked to reply with
// a sequence of those elements, optionally wrapped in a root element,
// possibly interleaved with stray whitespace or prose the model emitted
// outside the tags. Parse walks the reply with encoding/xml's Decoder.Token
// loop instead of unmarshalling the whole reply into a fixed struct, which
// is what makes it tolerant of an unexpected or missing wrapper.
type rawObservation struct {
	Type          string   `xml:"type"`
	Title         string   `xml:"title"`
	Subtitle      string   `xml:"subtitle"`
	Narrative     string   `xml:"narrative"`
	Facts         []string `xml:"facts>fact"`
	Concepts      []string `xml:"concepts>concept"`
	FilesRead     []string `xml:"files_read>file"`
	FilesModified []string `xml:"files_modified>file"`
}

type rawSummary struct {
	Request      string `xml:"request"`
	Investigated string `xml:"investigated"`
	Learned      string `xml:"learned"`
	Completed    string `xml:"completed"`
	NextSteps    string `xml:"next_steps"`
	Notes        string `xml:"notes"`
}

// Parse scans reply for <observation> and <summary> elements in the order
// they appear, ignoring any other text
// or unknown elements found between or around them. At most one summary
// is kept; a second <summary> element is ignored, matching "at most one
// per write".
func Parse(reply string) Result {
	dec := xml.NewDecoder(strings.NewReader(reply))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var result Result
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "observation":
			var raw rawObservation
			if dec.DecodeElement(&raw, &start) == nil {
				result.Observations = append(result.Observations, toObservation(raw))
			}
		case "summary":
			if result.Summary != nil {
				if err := dec.Skip(); err != nil {
					return result
				}
				continue
			}
			var raw rawSummary
			if dec.DecodeElement(&raw, &start) == nil {
				s := toSummary(raw)
				result.Summary = &s
			}
		}
	}
	return result
}

func toObservation(raw rawObservation) Observation {
	return Observation{
		Type:          strings.TrimSpace(raw.Type),
		Title:         strings.TrimSpace(raw.Title),
		Subtitle:      strings.TrimSpace(raw.Subtitle),
		Narrative:     strings.TrimSpace(raw.Narrative),
		Facts:         trimAll(raw.Facts),
		Concepts:      trimAll(raw.Concepts),
		FilesRead:     trimAll(raw.FilesRead),
		FilesModified: trimAll(raw.FilesModified),
	}
}

func toSummary(raw rawSummary) Summary {
	return Summary{
		Request:      strings.TrimSpace(raw.Request),
		Investigated: strings.TrimSpace(raw.Investigated),
		Learned:      strings.TrimSpace(raw.Learned),
		Completed:    strings.TrimSpace(raw.Completed),
		NextSteps:    strings.TrimSpace(raw.NextSteps),
		Notes:        strings.TrimSpace(raw.Notes),
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
