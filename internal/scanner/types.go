// Package scanner discovers indexable documents in a folder. It walks the
// tree once (or, for the watcher, a single path at a time), applies
// exclude patterns — gitignore-syntax rules plus built-in defaults — and
// keeps only the document formats the indexing pipeline knows how to
// chunk: plain text, Markdown, PDF, and common office formats.
package scanner

import "time"

// ContentType classifies a discovered file by the document format the
// indexing pipeline should treat it as.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypePDF      ContentType = "pdf"
	ContentTypeOffice   ContentType = "office"
)

// FileInfo contains metadata about a discovered document.
type FileInfo struct {
	Path        string      // Relative path to folder root
	AbsPath     string      // Absolute path
	Size        int64       // File size in bytes
	ModTime     time.Time   // Last modification time
	ContentType ContentType // text, markdown, pdf, office
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the folder root directory to scan.
	RootDir string

	// IncludePatterns specifies patterns to include (empty = all).
	IncludePatterns []string

	// ExcludePatterns specifies additional patterns to exclude, beyond the
	// scanner's built-in defaults (see DefaultExcludes in internal/ignore).
	ExcludePatterns []string

	// RespectGitignore enables .gitignore/.folderignore parsing.
	RespectGitignore bool

	// Workers is the number of concurrent workers (0 = NumCPU). Reserved
	// for future parallel stat/hash work; the walk itself is sequential.
	Workers int

	// MaxFileSize is the maximum file size to include in bytes (0 = 10MB default).
	MaxFileSize int64

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool

	// ProgressFunc is called with progress updates during scanning.
	ProgressFunc func(scanned, total int)
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// extensionContentType maps the document extensions the indexing pipeline
// supports to their content type. Anything else is skipped during a scan —
// this is the allowlist that replaces source-code language detection for a
// document folder.
var extensionContentType = map[string]ContentType{
	".txt":  ContentTypeText,
	".text": ContentTypeText,
	".rst":  ContentTypeText,
	".rtf":  ContentTypeText,
	".csv":  ContentTypeText,
	".log":  ContentTypeText,

	".md":       ContentTypeMarkdown,
	".markdown": ContentTypeMarkdown,
	".mdx":      ContentTypeMarkdown,

	".pdf": ContentTypePDF,

	".doc":  ContentTypeOffice,
	".docx": ContentTypeOffice,
	".ppt":  ContentTypeOffice,
	".pptx": ContentTypeOffice,
	".xls":  ContentTypeOffice,
	".xlsx": ContentTypeOffice,
	".odt":  ContentTypeOffice,
}

// DetectContentType reports the content type for path's extension, and
// whether the extension is a supported document format at all. A false
// result means the scanner should skip the file entirely.
func DetectContentType(path string) (ContentType, bool) {
	ct, ok := extensionContentType[extension(path)]
	return ct, ok
}

// extension returns the lowercased file extension from a path (including
// the dot).
func extension(path string) string {
	dot := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			dot = i
			break
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	if dot < 0 {
		return ""
	}
	ext := path[dot:]
	out := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
