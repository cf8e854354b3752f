// Package model is the in-memory annotation model: labels, annotation
// variants, classification answers and metrics. It knows nothing about
// ontologies; conformance is checked by the validator.
package model

import (
	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/geometry"
)

// Meta is carried by every annotation.
type Meta struct {
	// UUID is the stable annotation identifier; relationships refer to it.
	UUID string
	// Extra holds pass-through fields the model does not interpret.
	Extra map[string]any
}

// Common returns the shared metadata.
func (m *Meta) Common() *Meta { return m }

// EnsureUUID assigns a fresh uuid if none is set and returns it.
func (m *Meta) EnsureUUID() string {
	if m.UUID == "" {
		m.UUID = NewUUID()
	}
	return m.UUID
}

// Annotation is the sum of all annotation variants.
type Annotation interface {
	Common() *Meta
	Validate() error
	isAnnotation()
}

// CustomMetric is a named score attached to an annotation.
type CustomMetric struct {
	Name  string
	Value float64
}

// ObjectAnnotation locates a feature on the data row.
type ObjectAnnotation struct {
	Meta
	Feature         FeatureRef
	Value           geometry.Value
	Classifications []*ClassificationAnnotation
	Confidence      *float64
	CustomMetrics   []CustomMetric
}

// NewObjectAnnotation builds an object annotation with a fresh uuid.
func NewObjectAnnotation(feature FeatureRef, value geometry.Value, nested ...*ClassificationAnnotation) (*ObjectAnnotation, error) {
	a := &ObjectAnnotation{
		Meta:            Meta{UUID: NewUUID()},
		Feature:         feature,
		Value:           value,
		Classifications: nested,
	}
	return a, a.Validate()
}

func (*ObjectAnnotation) isAnnotation() {}

func (a *ObjectAnnotation) Validate() error {
	if err := a.Feature.Validate(); err != nil {
		return err
	}
	if a.Value == nil {
		return errs.New(errs.InvalidGeometry, "object annotation %q has no value", a.Feature)
	}
	if err := a.Value.Validate(); err != nil {
		return err
	}
	if err := validateScore(a.Confidence, a.CustomMetrics); err != nil {
		return err
	}
	return validateNested(a.Classifications)
}

// VideoObjectAnnotation is an object annotation on one frame of a video.
type VideoObjectAnnotation struct {
	ObjectAnnotation
	Frame        int
	SegmentIndex *int
}

// NewVideoObjectAnnotation builds a per-frame object annotation.
func NewVideoObjectAnnotation(feature FeatureRef, value geometry.Value, frame int, segmentIndex *int, nested ...*ClassificationAnnotation) (*VideoObjectAnnotation, error) {
	a := &VideoObjectAnnotation{
		ObjectAnnotation: ObjectAnnotation{
			Meta:            Meta{UUID: NewUUID()},
			Feature:         feature,
			Value:           value,
			Classifications: nested,
		},
		Frame:        frame,
		SegmentIndex: segmentIndex,
	}
	return a, a.Validate()
}

func (a *VideoObjectAnnotation) Validate() error {
	if err := validateFrame(a.Frame, a.SegmentIndex); err != nil {
		return err
	}
	return a.ObjectAnnotation.Validate()
}

// RelationshipType is the direction of a relationship.
type RelationshipType string

const (
	Unidirectional RelationshipType = "unidirectional"
	Bidirectional  RelationshipType = "bidirectional"
)

// RelationshipAnnotation links two annotations of the same label by uuid.
type RelationshipAnnotation struct {
	Meta
	Feature FeatureRef
	Source  string
	Target  string
	Type    RelationshipType
}

// NewRelationship links source to target, assigning uuids to endpoints that
// do not have one yet.
func NewRelationship(feature FeatureRef, source, target Annotation, typ RelationshipType) (*RelationshipAnnotation, error) {
	for _, end := range []Annotation{source, target} {
		switch end.(type) {
		case *ObjectAnnotation, *VideoObjectAnnotation:
		default:
			return nil, errs.New(errs.InvalidReference, "relationship endpoints must be object annotations, got %T", end)
		}
	}
	a := &RelationshipAnnotation{
		Meta:    Meta{UUID: NewUUID()},
		Feature: feature,
		Source:  source.Common().EnsureUUID(),
		Target:  target.Common().EnsureUUID(),
		Type:    typ,
	}
	return a, a.Validate()
}

func (*RelationshipAnnotation) isAnnotation() {}

func (a *RelationshipAnnotation) Validate() error {
	if err := a.Feature.Validate(); err != nil {
		return err
	}
	if a.Source == "" || a.Target == "" {
		return errs.New(errs.InvalidReference, "relationship needs source and target uuids").WithField("relationship")
	}
	switch a.Type {
	case Unidirectional, Bidirectional:
		return nil
	}
	return errs.New(errs.InvalidReference, "unknown relationship type %q", a.Type).WithField("relationship.type")
}

// PromptAnnotation is the free-text prompt of a label; at most one per label.
type PromptAnnotation struct {
	Meta
	Feature FeatureRef
	Text    string
}

// NewPromptAnnotation builds a prompt annotation.
func NewPromptAnnotation(feature FeatureRef, text string) (*PromptAnnotation, error) {
	a := &PromptAnnotation{Meta: Meta{UUID: NewUUID()}, Feature: feature, Text: text}
	return a, a.Validate()
}

func (*PromptAnnotation) isAnnotation() {}

func (a *PromptAnnotation) Validate() error {
	return a.Feature.Validate()
}

const maxConfidence = 1.0

func validateScore(confidence *float64, metrics []CustomMetric) error {
	if confidence != nil && (*confidence < 0 || *confidence > maxConfidence) {
		return errs.New(errs.InvalidMetric, "confidence must be in [0, 1], got %v", *confidence).WithField("confidence")
	}
	for _, m := range metrics {
		if m.Name == "" {
			return errs.New(errs.InvalidMetric, "custom metric needs a name").WithField("customMetrics")
		}
	}
	return nil
}

func validateFrame(frame int, segmentIndex *int) error {
	if frame < 0 {
		return errs.New(errs.InvalidGeometry, "frame must be >= 0, got %d", frame).WithField("frame")
	}
	if segmentIndex != nil && *segmentIndex < 0 {
		return errs.New(errs.InvalidGeometry, "segment index must be >= 0, got %d", *segmentIndex).WithField("segmentIndex")
	}
	return nil
}

func validateNested(nested []*ClassificationAnnotation) error {
	for _, c := range nested {
		if c == nil {
			return errs.New(errs.InvalidAnswer, "nil nested classification")
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
