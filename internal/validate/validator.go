// Package validate checks wire records against an ontology and, optionally,
// a set of known data rows.
//
// Checks within one record stop at the first failure; failures are collected
// across records and reported in record order. Validation performs no I/O
// beyond reading the stream it is given and never modifies its inputs.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/ppiankov/labelwire/internal/convert"
	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/ndjson"
	"github.com/ppiankov/labelwire/internal/ontology"
	"github.com/ppiankov/labelwire/internal/wire"
)

// Issue is a validation failure located at a record index.
type Issue struct {
	Index int
	UUID  string
	Err   error
}

// Kind returns the taxonomy kind of the failure.
func (i Issue) Kind() errs.Kind { return errs.KindOf(i.Err) }

func (i Issue) Error() string { return i.Err.Error() }

// Option configures a Validator.
type Option func(*Validator)

// WithDataRows enables the data-row existence check against rows.
func WithDataRows(rows model.DataRowSet) Option {
	return func(v *Validator) { v.rows = rows }
}

// WithStrictUUIDs requires every present uuid to parse as an RFC 4122 uuid.
func WithStrictUUIDs() Option {
	return func(v *Validator) { v.strictUUIDs = true }
}

// Validator checks record streams. It is safe for concurrent use; each call
// keeps its own cross-record state.
type Validator struct {
	ontology    *ontology.Ontology
	rows        model.DataRowSet
	strictUUIDs bool
}

// NewValidator creates a validator for the given ontology.
func NewValidator(o *ontology.Ontology, opts ...Option) *Validator {
	v := &Validator{ontology: o}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateRecords checks already decoded records; a record's index is its
// position in recs.
func (v *Validator) ValidateRecords(recs []wire.Record) []Issue {
	s := v.session()
	for i, rec := range recs {
		s.record(i, rec)
	}
	return s.finish()
}

// ValidateStream checks decoded lines. Lines that match no record variant
// are reported and skipped. A malformed line is reported and ends the
// stream; other read failures are returned as an error.
func (v *Validator) ValidateStream(lines iter.Seq2[ndjson.Raw, error]) ([]Issue, error) {
	s := v.session()
	for raw, err := range lines {
		if err != nil {
			if e, ok := errs.As(err); ok && e.Kind == errs.MalformedLine {
				s.fail(e.Index, "", err)
				break
			}
			return s.finish(), err
		}
		rec, err := raw.Record()
		if err != nil {
			s.fail(raw.Index, peekUUID(raw), err)
			continue
		}
		s.record(raw.Index, rec)
	}
	return s.finish(), nil
}

// ValidateReader decodes r as NDJSON and validates it.
func (v *Validator) ValidateReader(r io.Reader, opts ...ndjson.Option) ([]Issue, error) {
	return v.ValidateStream(ndjson.NewDecoder(r, opts...).All())
}

// ValidateFile validates the NDJSON file at path.
func (v *Validator) ValidateFile(ctx context.Context, path string) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return v.ValidateReader(f)
}

// ValidateRecords is a convenience wrapper for one-off validation.
func ValidateRecords(o *ontology.Ontology, recs []wire.Record, opts ...Option) []Issue {
	return NewValidator(o, opts...).ValidateRecords(recs)
}

// Errors flattens issues into one error, or nil when there are none.
func Errors(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	list := make([]error, len(issues))
	for i, is := range issues {
		list[i] = is.Err
	}
	return errors.Join(list...)
}

type pendingRelationship struct {
	index int
	rec   *wire.RelationshipRecord
	row   model.DataRowRef
}

type session struct {
	v      *Validator
	issues []Issue
	seen   map[string]model.DataRowRef
	rels   []pendingRelationship
}

func (v *Validator) session() *session {
	return &session{v: v, seen: make(map[string]model.DataRowRef)}
}

func (s *session) fail(index int, id string, err error) {
	if e, ok := errs.As(err); ok {
		e.WithIndex(index)
		if e.UUID == "" && id != "" {
			e.WithUUID(id)
		}
		if e.Op == "" {
			e.WithOp("validate")
		}
	}
	s.issues = append(s.issues, Issue{Index: index, UUID: id, Err: err})
}

func (s *session) record(index int, rec wire.Record) {
	if rec == nil {
		s.fail(index, "", errs.New(errs.UnrecognizedRecord, "record is nil"))
		return
	}
	base := rec.Common()
	row := model.DataRowRef{ID: base.DataRow.ID, GlobalKey: base.DataRow.GlobalKey}
	if err := s.check(rec, row); err != nil {
		s.fail(index, base.UUID, err)
		return
	}
	if rel, ok := rec.(*wire.RelationshipRecord); ok {
		s.rels = append(s.rels, pendingRelationship{index: index, rec: rel, row: row})
	}
}

// check runs the per-record checks in order: identity, feature key, feature
// and tool kind, geometry, nested classifications and answers, model constraints,
// data row existence.
func (s *session) check(rec wire.Record, row model.DataRowRef) error {
	base := rec.Common()
	if err := row.Validate(); err != nil {
		return err
	}
	if err := s.identity(base.UUID, row); err != nil {
		return err
	}

	var node *ontology.FeatureNode
	if !rec.Kind().IsMetric() {
		if err := featureKey(base); err != nil {
			return err
		}
		var err error
		if node, err = s.v.ontology.Resolve(base); err != nil {
			return err
		}
		if err := matchKind(rec.Kind(), node); err != nil {
			return err
		}
	}

	if rec.Kind().IsObject() {
		if _, err := convert.GeometryOf(rec); err != nil {
			return err
		}
	}
	if err := s.answers(rec, node); err != nil {
		return err
	}
	if err := modelConstraints(rec); err != nil {
		return err
	}

	if s.v.rows != nil && !s.v.rows.Contains(row) {
		return errs.New(errs.MissingDataRow, "data row %s is not in the project", row).WithField("dataRow")
	}
	return nil
}

func (s *session) identity(id string, row model.DataRowRef) error {
	if id == "" {
		return nil
	}
	if s.v.strictUUIDs {
		if _, err := uuid.Parse(id); err != nil {
			return errs.Wrap(errs.InvalidReference, err, "uuid %q is malformed", id).WithField("uuid")
		}
	}
	if _, dup := s.seen[id]; dup {
		return errs.New(errs.DuplicateUUID, "uuid %q already used by an earlier record", id).WithField("uuid")
	}
	s.seen[id] = row
	return nil
}

// finish runs the cross-record relationship check and orders the issues.
func (s *session) finish() []Issue {
	for _, p := range s.rels {
		if err := s.endpoints(p); err != nil {
			s.fail(p.index, p.rec.UUID, err)
		}
	}
	slices.SortStableFunc(s.issues, func(a, b Issue) int { return a.Index - b.Index })
	return s.issues
}

// endpoints requires both relationship endpoints to be records of the same
// data row earlier or later in the stream.
func (s *session) endpoints(p pendingRelationship) error {
	for _, end := range []string{p.rec.Relationship.Source, p.rec.Relationship.Target} {
		row, ok := s.seen[end]
		if !ok {
			return errs.New(errs.DanglingRelationship, "endpoint %q is not a record of this stream", end).
				WithField("relationship")
		}
		if row != p.row {
			return errs.New(errs.DanglingRelationship, "endpoint %q belongs to data row %s, not %s", end, row, p.row).
				WithField("relationship")
		}
	}
	return nil
}

func peekUUID(raw ndjson.Raw) string {
	var id string
	if data, ok := raw.Fields["uuid"]; ok {
		_ = json.Unmarshal(data, &id)
	}
	return id
}
