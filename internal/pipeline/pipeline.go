// Package pipeline wires the conversion core to the platform: the upload
// flow (fetch ontology and data rows, emit, validate, stream) and the
// download flow (fetch, decode, ingest).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ppiankov/labelwire/internal/config"
	"github.com/ppiankov/labelwire/internal/convert"
	"github.com/ppiankov/labelwire/internal/logging"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/ndjson"
	"github.com/ppiankov/labelwire/internal/platform"
	"github.com/ppiankov/labelwire/internal/validate"
	"github.com/ppiankov/labelwire/internal/wire"
)

// Deps are the platform collaborators. DataRows may be nil, which skips the
// data row existence check; Uploader and Downloader are only needed by the
// flows that use them.
type Deps struct {
	Ontologies platform.OntologySource
	DataRows   platform.DataRowSource
	Uploader   platform.Uploader
	Downloader platform.Downloader
}

// Pipeline runs the upload and download flows.
type Pipeline struct {
	deps        Deps
	convert     convert.Options
	workers     int
	strictUUIDs bool
}

// New creates a pipeline configured from cfg.
func New(deps Deps, cfg *config.Config) *Pipeline {
	return &Pipeline{
		deps: deps,
		convert: convert.Options{
			CoalesceVideoClassifications: cfg.Convert.CoalesceVideoClassifications,
			PreferNames:                  cfg.Convert.PreferNames,
		},
		workers: cfg.Concurrency.Workers,
	}
}

// WithStrictUUIDs makes the upload flow require RFC 4122 uuids.
func (p *Pipeline) WithStrictUUIDs(strict bool) *Pipeline {
	p.strictUUIDs = strict
	return p
}

// ValidationFailure is returned when records fail validation; nothing is
// uploaded.
type ValidationFailure struct {
	Issues []validate.Issue
}

func (f *ValidationFailure) Error() string {
	const shown = 3
	msgs := make([]string, 0, shown)
	for i, is := range f.Issues {
		if i == shown {
			break
		}
		msgs = append(msgs, is.Error())
	}
	more := ""
	if len(f.Issues) > shown {
		more = fmt.Sprintf(" (and %d more)", len(f.Issues)-shown)
	}
	return fmt.Sprintf("%d records failed validation: %s%s", len(f.Issues), strings.Join(msgs, "; "), more)
}

// Unwrap exposes the individual issue errors to errors.Is and errors.As.
func (f *ValidationFailure) Unwrap() []error {
	out := make([]error, len(f.Issues))
	for i, is := range f.Issues {
		out[i] = is.Err
	}
	return out
}

// UploadResult describes an accepted upload.
type UploadResult struct {
	Handle  *platform.UploadHandle
	Records int
}

// Upload emits labels, validates them against the project and streams the
// records to the uploader.
func (p *Pipeline) Upload(ctx context.Context, projectID, name string, labels []*model.Label) (*UploadResult, error) {
	recs, err := convert.EmitParallel(ctx, labels, p.workers, p.convert)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	logging.Debug("labels emitted", "labels", len(labels), "records", len(recs))
	return p.UploadRecords(ctx, projectID, name, recs)
}

// UploadFile validates and uploads an existing NDJSON file.
func (p *Pipeline) UploadFile(ctx context.Context, projectID, name, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	recs, err := ndjson.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return p.UploadRecords(ctx, projectID, name, recs)
}

// UploadRecords validates recs and streams them to the uploader.
func (p *Pipeline) UploadRecords(ctx context.Context, projectID, name string, recs []wire.Record) (*UploadResult, error) {
	if p.deps.Uploader == nil {
		return nil, errors.New("no uploader configured")
	}
	v, err := p.Validator(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if issues := v.ValidateRecords(recs); len(issues) > 0 {
		return nil, &ValidationFailure{Issues: issues}
	}

	pr, pw := io.Pipe()
	written := make(chan int, 1)
	go func() {
		enc := ndjson.NewEncoder(pw)
		var err error
		for _, rec := range recs {
			if err = enc.Encode(rec); err != nil {
				break
			}
		}
		written <- enc.Count()
		_ = pw.CloseWithError(err)
	}()

	handle, err := p.deps.Uploader.PostNDJSON(ctx, pr, name)
	_ = pr.CloseWithError(errUploadDone)
	n := <-written
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	logging.Info("uploaded", "project", projectID, "name", name, "records", n, "id", handle.ID)
	return &UploadResult{Handle: handle, Records: n}, nil
}

var errUploadDone = errors.New("upload finished")

// Validator builds a validator for the project's ontology and data rows.
func (p *Pipeline) Validator(ctx context.Context, projectID string) (*validate.Validator, error) {
	if p.deps.Ontologies == nil {
		return nil, errors.New("no ontology source configured")
	}
	o, err := p.deps.Ontologies.FetchOntology(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var opts []validate.Option
	if p.deps.DataRows != nil {
		rows, err := p.deps.DataRows.FetchDataRowRefs(ctx, projectID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, validate.WithDataRows(rows))
	}
	if p.strictUUIDs {
		opts = append(opts, validate.WithStrictUUIDs())
	}
	return validate.NewValidator(o, opts...), nil
}

// Download fetches an NDJSON export and ingests it into labels.
func (p *Pipeline) Download(ctx context.Context, url string) ([]*model.Label, error) {
	if p.deps.Downloader == nil {
		return nil, errors.New("no downloader configured")
	}
	rc, err := p.deps.Downloader.GetNDJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	labels, err := convert.IngestStream(ndjson.NewDecoder(rc).Records())
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", url, err)
	}
	logging.Debug("export ingested", "url", url, "labels", len(labels))
	return labels, nil
}

// NormalizeStats counts what Normalize read and wrote.
type NormalizeStats struct {
	Labels  int
	Written int
}

// Normalize reads NDJSON from r, ingests it and writes the emitted records
// to w. Relationship-linked annotations receive fresh uuids.
func (p *Pipeline) Normalize(r io.Reader, w io.Writer) (NormalizeStats, error) {
	labels, err := convert.IngestStream(ndjson.NewDecoder(r).Records())
	if err != nil {
		return NormalizeStats{}, fmt.Errorf("ingest: %w", err)
	}
	enc := ndjson.NewEncoder(w)
	if err := enc.EncodeAll(convert.Emit(slices.Values(labels), p.convert)); err != nil {
		return NormalizeStats{Labels: len(labels), Written: enc.Count()}, fmt.Errorf("emit: %w", err)
	}
	return NormalizeStats{Labels: len(labels), Written: enc.Count()}, nil
}
