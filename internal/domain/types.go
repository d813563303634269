package domain

import "time"

// ProcessStatus reports whether a file was freshly processed or served from cache.
type ProcessStatus string

const (
	StatusProcessed ProcessStatus = "processed"
	StatusCached    ProcessStatus = "cached"
)

// Paragraph is a block of extracted text with optional formatting hints.
type Paragraph struct {
	Text     string
	Style    string
	Bold     bool
	FontSize float64
}

// Extraction is the raw output of a text extractor.
type Extraction struct {
	Text       string
	Metadata   map[string]any
	Paragraphs []Paragraph
}

// DocumentRecord is one processed document, unique by ContentHash.
type DocumentRecord struct {
	ID          int64     `db:"id"`
	ContentHash string    `db:"content_hash"`
	Filename    string    `db:"filename"`
	FileSize    int64     `db:"file_size"`
	FileType    string    `db:"file_type"`
	ProcessedAt time.Time `db:"processed_at"`
	TotalChunks int       `db:"total_chunks"`
	TotalChars  int       `db:"total_chars"`
	Language    *string   `db:"language"`
	Summary     *string   `db:"summary"`
	// EmbeddingModel names the embedder that produced the chunk vectors.
	EmbeddingModel string `db:"embedding_model"`
}

// ChunkRecord is a contiguous slice of a document's normalized text.
type ChunkRecord struct {
	ID         int64     `db:"id"`
	DocumentID int64     `db:"document_id"`
	ChunkIndex int       `db:"chunk_index"`
	Text       string    `db:"text"`
	Embedding  []float32 `db:"-"`
}

// StoredDocument is a document together with its ordered chunks.
type StoredDocument struct {
	Document DocumentRecord
	Chunks   []ChunkRecord
}

// Stats aggregates over the content store.
type Stats struct {
	TotalDocuments       int64   `json:"total_documents"`
	TotalChunks          int64   `json:"total_chunks"`
	TotalCharacters      int64   `json:"total_characters"`
	AvgChunksPerDocument float64 `json:"avg_chunks_per_document"`
}

// Chunk is the unit indexed for retrieval.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Index      int
	Text       string
	Source     string
}

// SearchResult is a retrieved chunk with its similarity score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Section is a titled region of a document.
type Section struct {
	Title string
	Body  string
}

// SectionSummary describes one summarized section.
type SectionSummary struct {
	Title     string `json:"title"`
	Excerpt   string `json:"excerpt"`
	Summary   string `json:"summary"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
}

// SectionedSummary is an overall summary plus per-section summaries.
type SectionedSummary struct {
	OverallSummary string           `json:"overall_summary"`
	Sections       []SectionSummary `json:"sections"`
	TotalSections  int              `json:"total_sections"`
}

// Source is a cited chunk in a RAG answer.
type Source struct {
	Source  string `json:"source"`
	Excerpt string `json:"excerpt"`
	Index   int    `json:"index"`
}

// RAGResponse is the answer to a question.
type RAGResponse struct {
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

// ProcessResult is the outcome of processing one file.
type ProcessResult struct {
	Path        string        `json:"path,omitempty"`
	Status      ProcessStatus `json:"status"`
	ContentHash string        `json:"content_hash"`
	DocumentID  int64         `json:"document_id,omitempty"`
	ChunkCount  int           `json:"chunk_count,omitempty"`
	Err         error         `json:"-"`
}
