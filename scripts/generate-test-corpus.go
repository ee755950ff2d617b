//go:build ignore

// Package main generates a synthetic document folder for benchmarking the
// indexing pipeline.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Vocabulary for synthetic prose. Drawn from the kinds of documents the
// daemon indexes in practice: policies, reports, meeting notes.
var (
	departments = []string{"finance", "engineering", "legal", "operations", "marketing", "people"}
	subjects    = []string{
		"remote work policy", "expense reimbursement", "quarterly revenue",
		"vendor contracts", "incident response", "hiring plan",
		"travel guidelines", "security review", "product roadmap",
		"office relocation", "annual budget", "onboarding checklist",
	}
	sentences = []string{
		"This document describes the current process and its exceptions.",
		"All requests must be submitted through the portal before the monthly deadline.",
		"The committee reviews submissions every second Tuesday.",
		"Approved changes take effect at the start of the next quarter.",
		"Contact the responsible team for edge cases not covered here.",
		"Historical figures are kept for seven years per the retention policy.",
		"Managers are expected to confirm compliance during the annual review.",
		"Amounts above the threshold need a second signature.",
		"The previous revision of this document is archived for reference.",
		"Exceptions require written approval from the department head.",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numFiles; i++ {
		dept := departments[rng.Intn(len(departments))]
		subject := subjects[rng.Intn(len(subjects))]

		dir := filepath.Join(*outputDir, dept)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create dept dir: %v\n", err)
			os.Exit(1)
		}

		var path, content string
		switch rng.Intn(3) {
		case 0:
			path = filepath.Join(dir, fmt.Sprintf("doc-%04d.md", i))
			content = markdownDoc(rng, dept, subject)
		case 1:
			path = filepath.Join(dir, fmt.Sprintf("notes-%04d.txt", i))
			content = plainDoc(rng, dept, subject)
		default:
			path = filepath.Join(dir, fmt.Sprintf("table-%04d.csv", i))
			content = csvDoc(rng, dept)
		}

		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	fmt.Printf("generated %d documents under %s\n", *numFiles, *outputDir)
}

// markdownDoc produces a sectioned markdown document, several paragraphs
// per section, so the chunker has real header boundaries to work with.
func markdownDoc(rng *rand.Rand, dept, subject string) string {
	out := fmt.Sprintf("# %s: %s\n\n", title(dept), title(subject))
	sections := 2 + rng.Intn(4)
	for s := 0; s < sections; s++ {
		out += fmt.Sprintf("## Section %d\n\n", s+1)
		out += paragraphs(rng, 2+rng.Intn(3))
	}
	return out
}

// plainDoc produces free-form prose with no structure markers.
func plainDoc(rng *rand.Rand, dept, subject string) string {
	out := fmt.Sprintf("%s - %s\n\n", title(dept), title(subject))
	return out + paragraphs(rng, 3+rng.Intn(4))
}

// csvDoc produces a small numeric table.
func csvDoc(rng *rand.Rand, dept string) string {
	out := "month,department,amount,approved\n"
	for m := 1; m <= 12; m++ {
		out += fmt.Sprintf("%d,%s,%d,%t\n", m, dept, 1000+rng.Intn(90000), rng.Intn(4) > 0)
	}
	return out
}

func paragraphs(rng *rand.Rand, n int) string {
	var out string
	for p := 0; p < n; p++ {
		count := 3 + rng.Intn(4)
		for s := 0; s < count; s++ {
			out += sentences[rng.Intn(len(sentences))] + " "
		}
		out += "\n\n"
	}
	return out
}

func title(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
