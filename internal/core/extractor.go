package core

import "context"

// Block is one paragraph-level unit of extracted text with whatever
// structural provenance the source format exposes. Page is zero when
// the format has no page concept.
type Block struct {
	Text    string
	Page    int
	Section string
}

// Extraction is the linear result of converting a document blob.
type Extraction struct {
	Blocks []Block
}

// Text joins all blocks back into a single stream. Mainly for
// summaries and tests.
func (e *Extraction) Text() string {
	var out string
	for i, b := range e.Blocks {
		if i > 0 {
			out += "\n\n"
		}
		out += b.Text
	}
	return out
}

// TextExtractor converts a raw document blob into an ordered text
// stream. The contentType hint selects the parsing strategy. An error
// here is fatal for the whole document.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*Extraction, error)
}
