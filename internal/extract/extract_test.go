package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalbrain-ai/globalbrain/internal/log"
)

func TestExtractPlainText(t *testing.T) {
	e := NewDocconvExtractor(log.NewNop())

	res, err := e.Extract(context.Background(), []byte("First paragraph here.\n\nSecond paragraph here."), "text/plain")
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, "First paragraph here.", res.Blocks[0].Text)
	assert.Equal(t, "Second paragraph here.", res.Blocks[1].Text)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e := NewDocconvExtractor(log.NewNop())

	_, err := e.Extract(context.Background(), []byte{0x00, 0x01}, "application/x-unknown")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestBlockifyPagesAndSections(t *testing.T) {
	text := "INTRODUCTION\n\nThe study of memory begins here.\f# Methods\n\nParticipants were sampled at random.\n\nThe sampling frame covered two cohorts."

	blocks := blockify(text)
	require.Len(t, blocks, 3)

	assert.Equal(t, 1, blocks[0].Page)
	assert.Equal(t, "INTRODUCTION", blocks[0].Section)

	assert.Equal(t, 2, blocks[1].Page)
	assert.Equal(t, "Methods", blocks[1].Section)
	assert.Equal(t, "Methods", blocks[2].Section)
}

func TestBlockifyEmptyInput(t *testing.T) {
	assert.Empty(t, blockify(""))
	assert.Empty(t, blockify("   \n\n  \n"))
}

func TestExtractContentTypeWithCharset(t *testing.T) {
	e := NewDocconvExtractor(log.NewNop())

	res, err := e.Extract(context.Background(), []byte("hello world paragraph"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	require.Len(t, res.Blocks, 1)
}
