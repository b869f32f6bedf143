// Package summarize turns representative texts into structured topic items
// via an external summarization provider.
//
// The provider contract is strict: a call either yields a typed list of items
// or it failed. Partial or oddly shaped output is treated as failure so the
// pipeline can fall back deterministically instead of propagating junk.
package summarize

import "context"

// RawTopic is one structured item returned by a summarization provider.
// Fields are optional at this boundary; normalization downstream enforces
// lengths and vocabulary.
type RawTopic struct {
	Asset     string   `json:"asset"`
	OneLiner  string   `json:"one_liner"`
	Sentiment string   `json:"sentiment"`
	Trigger   string   `json:"trigger"`
	Risk      string   `json:"risk"`
	Evidence  []string `json:"evidence_snippets"`
	Related   []string `json:"related_assets"`
}

// Summarizer produces structured topics from representative texts.
type Summarizer interface {
	// Available returns true if the provider is configured and ready.
	Available() bool
	// Summarize returns a list of structured topic items. Any response that
	// does not decode to a list shape must be reported as an error.
	Summarize(ctx context.Context, texts []string) ([]RawTopic, error)
}
