// Package document holds the text units that flow from loading to retrieval.
package document

// MetaSource is the metadata key naming the file a segment or chunk came from.
const MetaSource = "source"

// MetaPage is the 0-based page number for segments loaded from PDFs.
const MetaPage = "page"

// Metadata maps metadata keys to values. Values are strings or ints.
type Metadata map[string]any

// Clone returns a shallow copy so chunks never share a map with their segment.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Source returns the source identifier or "" when absent.
func (m Metadata) Source() string {
	s, _ := m[MetaSource].(string)
	return s
}

// Segment is one loaded piece of a file: a PDF page or a whole text file.
type Segment struct {
	Text     string
	Metadata Metadata
}

// Chunk is a bounded window of a segment's text.
type Chunk struct {
	ID       string
	Text     string
	Index    int
	Metadata Metadata
}

// Match is a chunk returned by similarity search together with its score.
type Match struct {
	Chunk Chunk
	Score float64
}
