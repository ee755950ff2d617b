package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/foldermcp/internal/ignore"
)

// gitignoreCacheSize is the maximum number of exclude matchers to cache.
// This prevents unbounded memory growth in long-running processes.
const gitignoreCacheSize = 1000

// excludeFileNames are, in priority order, the per-directory exclude files
// a folder scan honors. ".folderignore" lets a document folder configure
// excludes without being a git repository; ".gitignore" is honored too so
// folders that happen to be git working trees behave the way users expect.
var excludeFileNames = []string{".folderignore", ".gitignore"}

// Scanner discovers indexable documents in a folder.
type Scanner struct {
	// excludeCache caches parsed exclude-file matchers by directory.
	// Uses LRU eviction to prevent unbounded memory growth.
	excludeCache *lru.Cache[string, *ignore.Matcher]
	cacheMu      sync.RWMutex

	// defaults matches the patterns every scan excludes even with no
	// exclude file present, built once from ignore.DefaultExcludes.
	defaults *ignore.Matcher
}

// New creates a new Scanner instance.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *ignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create exclude-file cache: %w", err)
	}

	defaults := ignore.New()
	for _, p := range ignore.DefaultExcludes() {
		defaults.AddPattern(p)
	}

	return &Scanner{
		excludeCache: cache,
		defaults:     defaults,
	}, nil
}

// Scan discovers all indexable documents in the folder. It returns a
// channel of ScanResult that streams files as they are discovered. The
// channel is closed when scanning is complete.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan ScanResult, workers*10)

	go func() {
		defer close(results)
		s.scan(ctx, absRoot, opts, maxFileSize, results)
	}()

	return results, nil
}

// scan performs the directory traversal.
func (s *Scanner) scan(ctx context.Context, absRoot string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // Skip files we can't access
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}

		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if s.shouldExcludeDir(relPath, absRoot, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}

		if s.shouldExcludeFile(relPath, absRoot, opts) {
			return nil
		}

		contentType, ok := DetectContentType(relPath)
		if !ok {
			return nil
		}

		if len(opts.IncludePatterns) > 0 && !matchesAnyPattern(relPath, opts.IncludePatterns) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if info.Size() > maxFileSize {
			return nil
		}

		if contentType == ContentTypeText && isBinaryFile(path) {
			return nil
		}

		fileInfo := &FileInfo{
			Path:        relPath,
			AbsPath:     path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentType: contentType,
		}

		select {
		case results <- ScanResult{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}

		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// shouldExcludeDir checks if a directory should be excluded.
func (s *Scanner) shouldExcludeDir(relPath, absRoot string, opts *ScanOptions) bool {
	if s.defaults.Match(relPath, true) {
		return true
	}

	if ignore.MatchesAnyPattern(relPath, opts.ExcludePatterns) {
		return true
	}

	if opts.RespectGitignore && s.isExcludedByFile(relPath, absRoot, true) {
		return true
	}

	return false
}

// shouldExcludeFile checks if a file should be excluded.
func (s *Scanner) shouldExcludeFile(relPath, absRoot string, opts *ScanOptions) bool {
	baseName := filepath.Base(relPath)

	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(baseName, pattern) {
			return true
		}
	}

	if s.defaults.Match(relPath, false) {
		return true
	}

	if ignore.MatchesAnyPattern(relPath, opts.ExcludePatterns) {
		return true
	}

	if opts.RespectGitignore && s.isExcludedByFile(relPath, absRoot, false) {
		return true
	}

	return false
}

// matchFilePattern reports whether baseName matches a simple glob pattern
// (*, prefix*, *suffix, *contains*, or exact).
func matchFilePattern(baseName, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	case strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, "."):
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	default:
		return baseName == pattern
	}
}

// matchesAnyPattern reports whether path matches any of the given patterns.
func matchesAnyPattern(relPath string, patterns []string) bool {
	baseName := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matchFilePattern(baseName, pattern) {
			return true
		}
	}
	return false
}

// isBinaryFile checks if a file is binary by looking for null bytes. Only
// consulted for ContentTypeText files: PDF and office formats are binary
// containers by definition and are handled by their own parsers.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}

	return bytes.Contains(buf[:n], []byte{0})
}

// isExcludedByFile checks whether relPath is excluded by a .folderignore
// or .gitignore rooted anywhere between the folder root and relPath.
func (s *Scanner) isExcludedByFile(relPath, absRoot string, isDir bool) bool {
	rootMatcher := s.getExcludeMatcher(absRoot, "")
	if rootMatcher != nil && rootMatcher.Match(relPath, isDir) {
		return true
	}

	parts := strings.Split(filepath.Dir(relPath), string(filepath.Separator))
	currentDir := absRoot
	currentBase := ""

	for _, part := range parts {
		if part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = filepath.Join(currentBase, part)
		}

		matcher := s.getExcludeMatcher(currentDir, currentBase)
		if matcher != nil && matcher.Match(relPath, isDir) {
			return true
		}
	}

	return false
}

// getExcludeMatcher gets or creates an exclude matcher for a directory,
// reading whichever of excludeFileNames is present (first match wins).
func (s *Scanner) getExcludeMatcher(dir, base string) *ignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.excludeCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	var excludePath string
	for _, name := range excludeFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			excludePath = candidate
			break
		}
	}
	if excludePath == "" {
		return nil
	}

	matcher = ignore.New()
	if err := matcher.AddFromFile(excludePath, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.excludeCache.Add(dir, matcher)
	s.cacheMu.Unlock()

	return matcher
}

// InvalidateExcludeCache clears the exclude-file matcher cache. Call this
// when a .folderignore or .gitignore changes so fresh patterns are used.
func (s *Scanner) InvalidateExcludeCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.excludeCache.Purge()
}

// sensitiveFilePatterns are never indexed regardless of extension, since a
// credential file can legitimately carry a .txt or no extension at all.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
