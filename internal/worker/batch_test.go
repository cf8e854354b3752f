package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/validate"
)

type stubChecker map[string][]validate.Issue

func (c stubChecker) ValidateFile(_ context.Context, path string) ([]validate.Issue, error) {
	issues, ok := c[filepath.Base(path)]
	if !ok {
		return nil, errors.New("no such file")
	}
	return issues, nil
}

func TestBatchValidator_KeepsInputOrder(t *testing.T) {
	dup := validate.Issue{Index: 1, Err: errs.New(errs.DuplicateUUID, "dup")}
	checker := stubChecker{"a.ndjson": nil, "b.ndjson": {dup}, "c.ndjson": nil}
	b := NewBatchValidator(checker, 2)

	results := b.ValidateFiles(context.Background(), []string{"a.ndjson", "b.ndjson", "missing.ndjson", "c.ndjson"})
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	if results[0].Path != "a.ndjson" || !results[0].OK() {
		t.Errorf("result 0: expected a clean a.ndjson, got %+v", results[0])
	}
	if !reflect.DeepEqual(results[1].Issues, []validate.Issue{dup}) || results[1].OK() {
		t.Errorf("result 1: expected the duplicate uuid issue, got %+v", results[1])
	}
	if results[2].Err() == nil {
		t.Error("result 2: expected an error for the missing file")
	}
	if !results[3].OK() {
		t.Errorf("result 3: expected OK, got %+v", results[3])
	}
}

func TestBatchValidator_Empty(t *testing.T) {
	b := NewBatchValidator(stubChecker{}, 2)
	if results := b.ValidateFiles(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestBatchValidator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatchValidator(stubChecker{"a.ndjson": nil}, 1)
	results := b.ValidateFiles(ctx, []string{"a.ndjson", "a.ndjson"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if !errors.Is(r.Err(), context.Canceled) {
			t.Errorf("result %d: expected context.Canceled, got %v", i, r.Err())
		}
	}
}

func TestReadPathsFromFile(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "files.txt")
	body := "# exports\nday1.ndjson\n\nday2.ndjson\nday1.ndjson\n/abs/day3.ndjson\n"
	if err := os.WriteFile(list, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	paths, err := ReadPathsFromFile(list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "day1.ndjson"),
		filepath.Join(dir, "day2.ndjson"),
		"/abs/day3.ndjson",
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("expected %v, got %v", want, paths)
	}

	if _, err := ReadPathsFromFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected an error for a missing list file")
	}
}

func TestBatchValidator_ValidateListFile(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "files.txt")
	if err := os.WriteFile(list, []byte("a.ndjson\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := NewBatchValidator(stubChecker{"a.ndjson": nil}, 1).ValidateListFile(context.Background(), list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || !results[0].OK() {
		t.Errorf("expected one clean result, got %+v", results)
	}
}
