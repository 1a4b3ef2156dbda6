package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalbrain-ai/globalbrain/internal/core"
)

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("hi"))
	assert.Equal(t, 1, ApproxTokens("four"))
	assert.Equal(t, 2, ApproxTokens("fiver"))
	assert.Equal(t, 25, ApproxTokens(strings.Repeat("a", 100)))
}

func TestChunkEmptyInput(t *testing.T) {
	assert.Empty(t, Chunk("", 400, 40, 50))
	assert.Empty(t, Chunk("   \n\n  \n", 400, 40, 50))
	assert.Empty(t, ChunkBlocks(nil, 400, 40, 50))
}

func TestChunkDropsShortSegments(t *testing.T) {
	pieces := Chunk("Too short.", 400, 40, 50)
	assert.Empty(t, pieces)

	long := strings.Repeat("university lecture notes ", 10)
	pieces = Chunk("Too short.\n\n"+long, 400, 40, 50)
	require.Len(t, pieces, 1)
	assert.Contains(t, pieces[0].Text, "university lecture notes")
}

func TestChunkParagraphsGroupUnderTarget(t *testing.T) {
	// Three ~100-token paragraphs fit one 400-token chunk together.
	para := strings.Repeat("mitochondria are the powerhouse of the cell ", 9)
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	pieces := Chunk(text, 400, 40, 50)
	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].Index)
	assert.LessOrEqual(t, pieces[0].TokenCount, 400)
}

func TestChunkFlushesOnTargetWithoutOverlap(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("photosynthesis converts light into chemical energy ", 12))
	text := para + "\n\n" + para + "\n\n" + para

	pieces := Chunk(text, 200, 40, 50)
	require.Greater(t, len(pieces), 1)

	// Paragraph-boundary splits carry no duplicated text.
	for i := 1; i < len(pieces); i++ {
		firstWords := strings.Join(strings.Fields(pieces[i].Text)[:3], " ")
		assert.False(t, strings.HasSuffix(pieces[i-1].Text, firstWords))
	}
	for i, p := range pieces {
		assert.Equal(t, i, p.Index)
	}
}

func TestChunkOversizeParagraphWindowsWithOverlap(t *testing.T) {
	words := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		words = append(words, "thermodynamics")
	}
	text := strings.Join(words, " ")

	pieces := Chunk(text, 200, 40, 50)
	require.Greater(t, len(pieces), 1)

	// Forced splits carry trailing context into the next window.
	for i := 1; i < len(pieces); i++ {
		prevTail := strings.Fields(pieces[i-1].Text)
		tail := prevTail[len(prevTail)-1]
		assert.True(t, strings.HasPrefix(pieces[i].Text, tail))
	}
}

func TestChunkBlocksCarriesProvenance(t *testing.T) {
	blocks := []core.Block{
		{Text: strings.Repeat("cell membranes regulate transport across the boundary ", 3), Section: "Membranes", Page: 1},
		{Text: strings.Repeat("osmosis moves water toward higher solute concentration ", 30), Section: "Osmosis", Page: 2},
	}

	pieces := ChunkBlocks(blocks, 100, 10, 50)
	require.NotEmpty(t, pieces)
	assert.Equal(t, "Membranes", pieces[0].Section)
	assert.Equal(t, 1, pieces[0].Page)

	var sawOsmosis bool
	for _, p := range pieces {
		if p.Section == "Osmosis" {
			sawOsmosis = true
			assert.Equal(t, 2, p.Page)
		}
	}
	assert.True(t, sawOsmosis)
}

func TestChunkIndicesContiguousAfterDrops(t *testing.T) {
	long := strings.Repeat("significant content for retrieval purposes ", 3)
	blocks := []core.Block{
		{Text: long},
		{Text: "tiny"},
		{Text: long + "second"},
		{Text: long + "third"},
	}
	pieces := ChunkBlocks(blocks, 30, 5, 50)
	for i, p := range pieces {
		assert.Equal(t, i, p.Index)
	}
}
