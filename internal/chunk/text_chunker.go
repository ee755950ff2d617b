package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TextChunkerOptions configures the plain-text chunker behavior.
type TextChunkerOptions struct {
	MaxChunkTokens int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens  int // Overlap between chunks (default: DefaultOverlapTokens)
}

// TextChunker splits plain text (and text extracted from PDF/office
// documents) into paragraph-bounded, token-budgeted windows with overlap.
// Unlike MarkdownChunker it has no header structure to key off of, so it
// accumulates paragraphs until the token budget is hit.
type TextChunker struct {
	options TextChunkerOptions
}

// NewTextChunker creates a text chunker with default options.
func NewTextChunker() *TextChunker {
	return NewTextChunkerWithOptions(TextChunkerOptions{})
}

// NewTextChunkerWithOptions creates a text chunker with custom options.
func NewTextChunkerWithOptions(opts TextChunkerOptions) *TextChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &TextChunker{options: opts}
}

// Close releases chunker resources. TextChunker is stateless.
func (c *TextChunker) Close() {}

// SupportedExtensions returns file extensions this chunker handles.
func (c *TextChunker) SupportedExtensions() []string {
	return []string{".txt", ".text", ".pdf", ".docx", ".doc", ".pptx", ".xlsx"}
}

// Chunk splits file content into overlapping, paragraph-aligned windows.
func (c *TextChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	paragraphs := splitParagraphs(string(file.Content))
	if len(paragraphs) == 0 {
		return nil, nil
	}

	maxChars := c.options.MaxChunkTokens * TokensPerChar
	overlapChars := c.options.OverlapTokens * TokensPerChar
	now := time.Now()

	var chunks []*Chunk
	var current strings.Builder
	startLine := 1
	line := 1

	flush := func(endLine int) {
		content := strings.TrimSpace(current.String())
		if content == "" {
			return
		}
		chunks = append(chunks, c.newChunk(file, content, startLine, endLine, now, len(chunks)))
		current.Reset()
	}

	for _, p := range paragraphs {
		lineCount := strings.Count(p, "\n") + 1
		if current.Len() > 0 && current.Len()+len(p) > maxChars {
			endLine := line - 1
			flush(endLine)

			overlap := tailChars(current.String(), overlapChars)
			current.WriteString(overlap)
			startLine = line - strings.Count(overlap, "\n")
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		line += lineCount + 1
	}
	flush(line - 1)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return chunks, nil
}

func (c *TextChunker) newChunk(file *FileInput, content string, startLine, endLine int, now time.Time, ordinal int) *Chunk {
	id := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", file.Path, startLine)))
	return &Chunk{
		ID:          hex.EncodeToString(id[:])[:16],
		FilePath:    file.Path,
		Content:     content,
		ContentType: ContentTypeText,
		Language:    file.Language,
		StartLine:   startLine,
		EndLine:     endLine,
		Metadata:    map[string]string{"ordinal": fmt.Sprintf("%d", ordinal)},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// splitParagraphs splits on blank lines, trimming surrounding whitespace
// from each paragraph and dropping empty ones.
func splitParagraphs(content string) []string {
	raw := strings.Split(content, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// tailChars returns the last n characters of s, breaking on a line boundary
// when possible so overlap stays paragraph-aligned.
func tailChars(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	if idx := strings.Index(tail, "\n"); idx >= 0 {
		return tail[idx+1:]
	}
	return tail
}
