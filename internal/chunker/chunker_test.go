package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_HeadingSections(t *testing.T) {
	source := []byte(`# Photosynthesis

Light is converted into chemical energy.

## Light Reactions

The thylakoid membrane hosts the light reactions.

## Calvin Cycle

Carbon fixation happens in the stroma.
`)

	fragments, err := NewSplitter(0, -1).Split(source)
	require.NoError(t, err)
	require.Len(t, fragments, 3)

	assert.Equal(t, "# Photosynthesis", fragments[0].Heading)
	assert.True(t, strings.HasPrefix(fragments[0].Text, "# Photosynthesis"), "section starts at its heading line")
	assert.Contains(t, fragments[0].Text, "chemical energy")
	assert.NotContains(t, fragments[0].Text, "thylakoid", "parent sections end where a child begins")

	assert.Equal(t, "# Photosynthesis > ## Light Reactions", fragments[1].Heading)
	assert.Contains(t, fragments[1].Text, "thylakoid membrane")

	assert.Equal(t, "# Photosynthesis > ## Calvin Cycle", fragments[2].Heading)
	assert.Contains(t, fragments[2].Text, "Carbon fixation")

	for i, f := range fragments {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, f.Text, string(source[f.Start:f.End]), "fragment %d offsets point at its text", i)
	}
}

func TestSplit_NoHeadings(t *testing.T) {
	source := []byte("  Plain lecture notes without any structure.\n")

	fragments, err := NewSplitter(0, -1).Split(source)
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	f := fragments[0]
	assert.Empty(t, f.Heading)
	assert.Equal(t, "Plain lecture notes without any structure.", f.Text)
	assert.Equal(t, f.Text, string(source[f.Start:f.End]))
}

func TestSplit_EmptyDocument(t *testing.T) {
	fragments, err := NewSplitter(0, -1).Split([]byte("   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestSplit_DeepHeadingsStayInline(t *testing.T) {
	source := []byte(`# Top

Intro paragraph.

#### Footnote Detail

Fine print that belongs to the same fragment.
`)

	fragments, err := NewSplitter(0, -1).Split(source)
	require.NoError(t, err)
	require.Len(t, fragments, 1, "level 4 headings do not open fragment boundaries")
	assert.Contains(t, fragments[0].Text, "Fine print")
}

func TestSplit_OversizedSectionOverlap(t *testing.T) {
	// 350 characters, no whitespace, so trimming never shifts offsets.
	body := strings.Repeat("abcdefghij", 35)
	splitter := NewSplitter(100, 20)

	fragments, err := splitter.Split([]byte(body))
	require.NoError(t, err)
	require.Greater(t, len(fragments), 1)

	for i, f := range fragments {
		assert.LessOrEqual(t, len(f.Text), splitter.maxChars, "fragment %d within size limit", i)
		assert.Equal(t, f.Text, body[f.Start:f.End], "fragment %d offsets point at its text", i)
		if i > 0 {
			prev := fragments[i-1]
			assert.Less(t, f.Start, prev.End, "fragments %d and %d overlap", i-1, i)
			assert.Greater(t, f.Start, prev.Start, "fragments advance through the section")
		}
	}
	assert.Equal(t, len(body), fragments[len(fragments)-1].End, "last fragment reaches the end of the section")
}

func TestSplit_MultibyteBoundaries(t *testing.T) {
	// Every rune is 3 bytes; naive byte cuts would land mid-rune.
	body := strings.Repeat("語", 200)
	splitter := NewSplitter(91, 30)

	fragments, err := splitter.Split([]byte(body))
	require.NoError(t, err)
	require.Greater(t, len(fragments), 1)

	for i, f := range fragments {
		assert.True(t, strings.HasPrefix(f.Text, "語"), "fragment %d starts on a rune boundary", i)
		assert.True(t, strings.HasSuffix(f.Text, "語"), "fragment %d ends on a rune boundary", i)
		assert.Equal(t, f.Text, body[f.Start:f.End])
	}
}

func TestSplit_TinyMaxChars(t *testing.T) {
	// 3-byte runes with size limits at or below one rune width: the walk
	// must still terminate and cover the whole section.
	body := strings.Repeat("語", 6)

	fragments, err := NewSplitter(1, 0).Split([]byte(body))
	require.NoError(t, err)
	require.NotEmpty(t, fragments)
	assert.Equal(t, len(body), fragments[len(fragments)-1].End)
	for i, f := range fragments {
		assert.Equal(t, f.Text, body[f.Start:f.End], "fragment %d offsets point at its text", i)
	}

	// Step of 2 bytes lands inside every rune.
	fragments, err = NewSplitter(4, 2).Split([]byte(body))
	require.NoError(t, err)
	require.NotEmpty(t, fragments)
	assert.Equal(t, len(body), fragments[len(fragments)-1].End)
}

func TestNewSplitter_ClampsOverlap(t *testing.T) {
	s := NewSplitter(100, 100)
	assert.Equal(t, 25, s.overlap, "overlap at or above maxChars falls back to a quarter")

	s = NewSplitter(100, 150)
	assert.Equal(t, 25, s.overlap)
}
