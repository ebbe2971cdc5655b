package ingestion

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/kb-agent/document"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%02d", i)
	}
	return strings.Join(parts, " ")
}

func TestNewSplitterDefaults(t *testing.T) {
	s := NewSplitter()
	assert.Equal(t, DefaultChunkSize, s.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, s.overlap)

	clamped := NewSplitter(WithChunkSize(40), WithOverlap(40))
	assert.Equal(t, 10, clamped.overlap)
}

func TestSplitTextRespectsChunkSize(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta.\n", 40) + "\n\n" + words(200)
	s := NewSplitter(WithChunkSize(50), WithOverlap(10))

	chunks := s.SplitText(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50, c)
		assert.NotEmpty(t, c)
	}
}

func TestSplitTextWithoutOverlapReconstructs(t *testing.T) {
	text := words(60)
	s := NewSplitter(WithChunkSize(20), WithOverlap(0))

	chunks := s.SplitText(text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, text, strings.Join(chunks, " "))
}

func TestSplitTextCarriesOverlap(t *testing.T) {
	s := NewSplitter(WithChunkSize(20), WithOverlap(10))

	chunks := s.SplitText(words(30))
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1], first, "chunk %d should start with context from chunk %d", i, i-1)
	}
}

func TestSplitTextPrefersParagraphs(t *testing.T) {
	s := NewSplitter(WithChunkSize(20), WithOverlap(0))

	chunks := s.SplitText("para one short.\n\npara two short.")
	assert.Equal(t, []string{"para one short.", "para two short."}, chunks)
}

func TestSplitTextHardCut(t *testing.T) {
	s := NewSplitter(WithChunkSize(4), WithOverlap(0))

	assert.Equal(t, []string{"abcd", "efgh", "ij"}, s.SplitText("abcdefghij"))
}

func TestSplitTextCountsRunes(t *testing.T) {
	s := NewSplitter(WithChunkSize(2), WithOverlap(0))

	assert.Equal(t, []string{"éé", "éé", "é"}, s.SplitText("ééééé"))
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	s := NewSplitter()
	assert.Equal(t, []string{"The capital of France is Paris."}, s.SplitText("The capital of France is Paris."))
	assert.Empty(t, s.SplitText("   \n\n  "))
}

func TestSplitCopiesMetadataAndNumbersPerSource(t *testing.T) {
	segments := []document.Segment{
		{Text: words(12), Metadata: document.Metadata{document.MetaSource: "a.pdf", document.MetaPage: 0}},
		{Text: words(12), Metadata: document.Metadata{document.MetaSource: "a.pdf", document.MetaPage: 1}},
		{Text: "tiny", Metadata: document.Metadata{document.MetaSource: "b.txt"}},
	}
	s := NewSplitter(WithChunkSize(20), WithOverlap(0))

	chunks := s.Split(segments)
	require.Greater(t, len(chunks), 3)

	var aIndexes []int
	for _, c := range chunks {
		if c.Metadata.Source() == "a.pdf" {
			aIndexes = append(aIndexes, c.Index)
		}
	}
	for i, idx := range aIndexes {
		assert.Equal(t, i, idx)
	}

	last := chunks[len(chunks)-1]
	assert.Equal(t, "b.txt", last.Metadata.Source())
	assert.Equal(t, 0, last.Index)

	chunks[0].Metadata["extra"] = true
	_, leaked := segments[0].Metadata["extra"]
	assert.False(t, leaked)
	assert.Equal(t, 1, chunks[len(chunks)-2].Metadata[document.MetaPage])
}
