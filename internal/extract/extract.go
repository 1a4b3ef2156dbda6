// Package extract converts uploaded document blobs into ordered text
// blocks. Binary formats (PDF, DOCX, PPTX) go through docconv; plain
// text and markdown are decoded directly. The extractor also recovers
// what structure the flat text exposes: page breaks (form feeds) and
// heading-shaped lines become block provenance for citations.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
)

// ErrUnsupportedFormat marks a MIME type with no registered extraction
// strategy. Fatal for the document.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// DocconvExtractor implements core.TextExtractor.
type DocconvExtractor struct {
	logger log.Logger
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(logger log.Logger) *DocconvExtractor {
	return &DocconvExtractor{logger: logger.With("component", "extract")}
}

func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := e.toText(data, contentType)
	if err != nil {
		return nil, err
	}
	return &core.Extraction{Blocks: blockify(text)}, nil
}

func (e *DocconvExtractor) toText(data []byte, contentType string) (string, error) {
	mime := contentType
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case mime == "text/plain", mime == "text/markdown", mime == "text/csv":
		return string(data), nil
	case mime == "application/pdf",
		mime == "application/msword",
		mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		mime == "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		mime == "application/vnd.ms-powerpoint",
		mime == "application/rtf",
		mime == "text/html":
		res, err := docconv.Convert(bytes.NewReader(data), mime, false)
		if err != nil {
			return "", fmt.Errorf("docconv %s: %w", mime, err)
		}
		return res.Body, nil
	default:
		e.logger.Warn("no extraction strategy for content type", "content_type", contentType)
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}
}

// blockify splits flat text into paragraph blocks. Form feeds advance
// the page counter (docconv emits them between PDF pages); heading-
// shaped lines update the current section without becoming blocks of
// their own.
func blockify(text string) []core.Block {
	var blocks []core.Block
	page := 0
	section := ""

	pages := strings.Split(text, "\f")
	multiPage := len(pages) > 1
	for pi, pageText := range pages {
		if multiPage {
			page = pi + 1
		}
		for _, para := range strings.Split(pageText, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			if title, ok := headingTitle(para); ok {
				section = title
				continue
			}
			blocks = append(blocks, core.Block{Text: para, Page: page, Section: section})
		}
	}
	return blocks
}

// headingTitle reports whether a paragraph is a single heading-shaped
// line: markdown hashes, or a short line that is mostly uppercase.
func headingTitle(para string) (string, bool) {
	if strings.Contains(para, "\n") {
		return "", false
	}
	trimmed := strings.TrimSpace(para)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, "#") {
		return strings.TrimSpace(strings.TrimLeft(trimmed, "#")), true
	}
	runes := []rune(trimmed)
	if len(runes) > 80 {
		return "", false
	}
	letters, uppers := 0, 0
	for _, r := range runes {
		if 'a' <= r && r <= 'z' {
			letters++
		}
		if 'A' <= r && r <= 'Z' {
			letters++
			uppers++
		}
	}
	if letters > 3 && float64(uppers) >= 0.8*float64(letters) {
		return trimmed, true
	}
	return "", false
}
