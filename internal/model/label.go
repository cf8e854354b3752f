package model

import (
	"github.com/ppiankov/labelwire/internal/errs"
)

// MediaType is the kind of data a label annotates, inferred on ingest.
type MediaType string

const (
	MediaGeneric      MediaType = "generic"
	MediaText         MediaType = "text"
	MediaVideo        MediaType = "video"
	MediaDocument     MediaType = "document"
	MediaConversation MediaType = "conversation"
)

// Label pairs a data row with its annotations.
type Label struct {
	DataRow              DataRowRef
	Annotations          []Annotation
	IsBenchmarkReference bool
	MediaType            MediaType
}

// NewLabel builds a label and checks its invariants.
func NewLabel(dataRow DataRowRef, annotations ...Annotation) (*Label, error) {
	l := &Label{DataRow: dataRow, Annotations: annotations}
	return l, l.Validate()
}

// Add appends annotations.
func (l *Label) Add(annotations ...Annotation) {
	l.Annotations = append(l.Annotations, annotations...)
}

// Find returns the annotation with the given uuid.
func (l *Label) Find(id string) (Annotation, bool) {
	if id == "" {
		return nil, false
	}
	for _, a := range l.Annotations {
		if a.Common().UUID == id {
			return a, true
		}
	}
	return nil, false
}

// Relationships returns the label's relationship annotations in order.
func (l *Label) Relationships() []*RelationshipAnnotation {
	var out []*RelationshipAnnotation
	for _, a := range l.Annotations {
		if r, ok := a.(*RelationshipAnnotation); ok {
			out = append(out, r)
		}
	}
	return out
}

// Validate checks the data row reference, every annotation, that there is at
// most one prompt, that uuids are unique, and that relationship endpoints
// name non-relationship annotations of this label.
func (l *Label) Validate() error {
	if err := l.DataRow.Validate(); err != nil {
		return err
	}

	prompts := 0
	seen := make(map[string]bool, len(l.Annotations))
	rels := make(map[string]bool)
	for i, a := range l.Annotations {
		if isNil(a) {
			return errs.New(errs.InvalidLabel, "annotation %d is nil", i).WithIndex(i)
		}
		if err := a.Validate(); err != nil {
			if e, ok := errs.As(err); ok && e.Index < 0 {
				e.Index = i
				e.UUID = a.Common().UUID
			}
			return err
		}
		if _, ok := a.(*PromptAnnotation); ok {
			prompts++
			if prompts > 1 {
				return errs.New(errs.InvalidLabel, "a label carries at most one prompt").WithIndex(i)
			}
		}
		id := a.Common().UUID
		if id == "" {
			continue
		}
		if seen[id] {
			return errs.New(errs.DuplicateUUID, "uuid repeated within label").WithIndex(i).WithUUID(id)
		}
		seen[id] = true
		if _, ok := a.(*RelationshipAnnotation); ok {
			rels[id] = true
		}
	}

	for _, r := range l.Relationships() {
		for _, end := range []string{r.Source, r.Target} {
			if !seen[end] {
				return errs.New(errs.DanglingRelationship, "endpoint %q is not in the label", end).WithUUID(r.UUID)
			}
			if rels[end] {
				return errs.New(errs.InvalidReference, "endpoint %q is a relationship", end).
					WithUUID(r.UUID).WithField("relationship")
			}
		}
	}
	return nil
}

// isNil reports whether a is nil or a typed nil pointer.
func isNil(a Annotation) bool {
	switch a := a.(type) {
	case nil:
		return true
	case *ObjectAnnotation:
		return a == nil
	case *VideoObjectAnnotation:
		return a == nil
	case *ClassificationAnnotation:
		return a == nil
	case *VideoClassificationAnnotation:
		return a == nil
	case *RelationshipAnnotation:
		return a == nil
	case *PromptAnnotation:
		return a == nil
	case *ScalarMetric:
		return a == nil
	case *ConfusionMatrixMetric:
		return a == nil
	}
	return false
}
