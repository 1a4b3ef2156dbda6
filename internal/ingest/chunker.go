// Package ingest turns extracted text into persisted, embedded,
// searchable chunks and owns the per-document processing state machine.
package ingest

import (
	"strings"

	"github.com/globalbrain-ai/globalbrain/internal/core"
)

// DefaultMinChunkChars drops segments too short to carry retrieval
// signal.
const DefaultMinChunkChars = 50

// Piece is a chunk before persistence: ordered text with provenance.
type Piece struct {
	Index      int
	Text       string
	TokenCount int
	Section    string
	Page       int
}

// ApproxTokens is a cheap token estimator (~4 chars per token). Good
// enough for chunk sizing; a real tokenizer would move boundaries by a
// few words at most. This approximation is a deliberate design choice,
// shared by the retrieval side.
func ApproxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// Chunk splits plain text into pieces. Convenience wrapper over
// ChunkBlocks for sources without structural markers.
func Chunk(text string, targetTokens, overlapTokens, minChars int) []Piece {
	var blocks []core.Block
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		blocks = append(blocks, core.Block{Text: para})
	}
	return ChunkBlocks(blocks, targetTokens, overlapTokens, minChars)
}

// ChunkBlocks groups paragraph blocks into token-bounded pieces.
//
// Paragraph boundaries are preferred split points and carry no overlap.
// A single paragraph larger than targetTokens is force-split into word
// windows, and only there is overlapTokens of trailing context carried
// into the next window. Pieces shorter than minChars are dropped.
// Indices are contiguous from zero over the surviving pieces.
func ChunkBlocks(blocks []core.Block, targetTokens, overlapTokens, minChars int) []Piece {
	if targetTokens <= 0 {
		targetTokens = 400
	}
	if minChars <= 0 {
		minChars = DefaultMinChunkChars
	}

	var pieces []Piece

	var buf []string
	bufTokens := 0
	bufSection := ""
	bufPage := 0

	emit := func(text, section string, page int) {
		text = strings.TrimSpace(text)
		if len([]rune(text)) < minChars {
			return
		}
		pieces = append(pieces, Piece{
			Index:      len(pieces),
			Text:       text,
			TokenCount: ApproxTokens(text),
			Section:    section,
			Page:       page,
		})
	}

	flush := func() {
		if bufTokens == 0 {
			return
		}
		emit(strings.Join(buf, "\n\n"), bufSection, bufPage)
		buf = buf[:0]
		bufTokens = 0
	}

	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		t := ApproxTokens(text)

		// Oversize paragraph: flush what we have, then window it.
		if t > targetTokens {
			flush()
			for _, w := range windowWords(text, targetTokens, overlapTokens) {
				emit(w, b.Section, b.Page)
			}
			continue
		}

		if bufTokens > 0 && bufTokens+t > targetTokens {
			flush()
		}
		if bufTokens == 0 {
			bufSection = b.Section
			bufPage = b.Page
		}
		buf = append(buf, text)
		bufTokens += t
	}
	flush()

	return pieces
}

// windowWords splits an oversize paragraph into word windows of about
// targetTokens each, carrying overlapTokens of trailing words into the
// next window so context spanning the forced boundary is not lost.
func windowWords(text string, targetTokens, overlapTokens int) []string {
	words := strings.Fields(text)

	var out []string
	var win []string
	winTokens := 0

	for _, w := range words {
		win = append(win, w)
		winTokens += ApproxTokens(w) + 1
		if winTokens < targetTokens {
			continue
		}

		out = append(out, strings.Join(win, " "))

		// Keep a tail whose token sum is about overlapTokens.
		var keep []string
		remain := overlapTokens
		for j := len(win) - 1; j >= 0 && remain > 0; j-- {
			keep = append([]string{win[j]}, keep...)
			remain -= ApproxTokens(win[j]) + 1
		}
		win = keep
		winTokens = 0
		for _, k := range win {
			winTokens += ApproxTokens(k) + 1
		}
	}

	// Tail, unless it is only the carried overlap repeated.
	if len(win) > 0 && winTokens > overlapTokens {
		out = append(out, strings.Join(win, " "))
	}
	return out
}
