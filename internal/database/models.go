package database

import "time"

// Document is one ingested source (an annual report, a web page) for a subject.
type Document struct {
	ID         int64
	Subject    string
	Source     string
	Title      string
	WordCount  int
	ChunkCount int
	IngestedAt time.Time
}

// Chunk is a contiguous slice of a document's text.
type Chunk struct {
	ID         int64
	DocumentID int64
	Seq        int
	Content    string
}

// Hit is a chunk matched by a full-text search, with its document metadata.
type Hit struct {
	Chunk
	Title  string
	Source string
	Rank   float64
}

// Stats summarizes the document index.
type Stats struct {
	Subjects  int
	Documents int
	Chunks    int
	Words     int
	Newest    *time.Time
}
