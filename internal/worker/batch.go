package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/labelwire/internal/logging"
	"github.com/ppiankov/labelwire/internal/validate"
)

// FileChecker validates one NDJSON file.
type FileChecker interface {
	ValidateFile(ctx context.Context, path string) ([]validate.Issue, error)
}

// FileJob validates the file at Path.
type FileJob struct {
	Index   int
	Path    string
	Checker FileChecker
}

// Execute runs the check.
func (j *FileJob) Execute(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return &FileResult{Index: j.Index, Path: j.Path, Error: err}
	}
	issues, err := j.Checker.ValidateFile(ctx, j.Path)
	return &FileResult{Index: j.Index, Path: j.Path, Issues: issues, Error: err}
}

// FileResult is the outcome of validating one file. Error is set when the
// file could not be read; Issues lists records that failed validation.
type FileResult struct {
	Index  int
	Path   string
	Issues []validate.Issue
	Error  error
}

func (r *FileResult) Err() error { return r.Error }

// OK reports whether the file was read and every record passed.
func (r *FileResult) OK() bool { return r.Error == nil && len(r.Issues) == 0 }

// BatchValidator validates many files concurrently.
type BatchValidator struct {
	checker     FileChecker
	concurrency int
}

// NewBatchValidator creates a batch validator running up to concurrency
// files at once.
func NewBatchValidator(checker FileChecker, concurrency int) *BatchValidator {
	return &BatchValidator{checker: checker, concurrency: concurrency}
}

// ValidateFiles checks every path and returns results in input order. Files
// left unchecked when ctx ends carry the context error.
func (b *BatchValidator) ValidateFiles(ctx context.Context, paths []string) []*FileResult {
	if len(paths) == 0 {
		return []*FileResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()
	defer pool.Shutdown()
	go func() {
		defer pool.Close()
		for i, path := range paths {
			if !pool.Submit(&FileJob{Index: i, Path: path, Checker: b.checker}) {
				return
			}
		}
	}()

	out := make([]*FileResult, len(paths))
	for r := range pool.Results() {
		fr := r.(*FileResult)
		logging.Debug("file validated", "path", fr.Path, "issues", len(fr.Issues), "error", fr.Error)
		out[fr.Index] = fr
	}
	for i, fr := range out {
		if fr == nil {
			out[i] = &FileResult{Index: i, Path: paths[i], Error: context.Cause(ctx)}
		}
	}
	return out
}

// ValidateListFile reads a list of NDJSON paths from listPath and validates
// them.
func (b *BatchValidator) ValidateListFile(ctx context.Context, listPath string) ([]*FileResult, error) {
	paths, err := ReadPathsFromFile(listPath)
	if err != nil {
		return nil, fmt.Errorf("read paths: %w", err)
	}
	return b.ValidateFiles(ctx, paths), nil
}

// ReadPathsFromFile reads one path per line, skipping blanks and # comments
// and dropping repeats. Relative paths are taken relative to the list file.
func ReadPathsFromFile(listPath string) ([]string, error) {
	file, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	base := filepath.Dir(listPath)
	var paths []string
	seen := make(map[string]bool)

	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return paths, nil
}
