package model

import (
	"github.com/ppiankov/labelwire/internal/errs"
)

// ClassificationValue is one of Text, Radio or Checklist.
type ClassificationValue interface {
	classificationValue()
}

// Text is a free-text answer.
type Text struct {
	Answer string
}

// Radio is a single selected option.
type Radio struct {
	Answer ClassificationAnswer
}

// Checklist is one or more selected options.
type Checklist struct {
	Answers []ClassificationAnswer
}

func (Text) classificationValue()      {}
func (Radio) classificationValue()     {}
func (Checklist) classificationValue() {}

// ClassificationAnswer selects an ontology option, optionally answering the
// option's nested classifications.
type ClassificationAnswer struct {
	Feature         FeatureRef
	Confidence      *float64
	CustomMetrics   []CustomMetric
	Classifications []*ClassificationAnnotation
}

// Answer builds an answer naming an option.
func Answer(option string, nested ...*ClassificationAnnotation) ClassificationAnswer {
	return ClassificationAnswer{Feature: FeatureByName(option), Classifications: nested}
}

func (a ClassificationAnswer) validate() error {
	if err := a.Feature.Validate(); err != nil {
		return errs.Wrap(errs.InvalidAnswer, err, "answer")
	}
	if err := validateScore(a.Confidence, a.CustomMetrics); err != nil {
		return err
	}
	return validateNested(a.Classifications)
}

// ClassificationAnnotation answers a classification, globally or nested
// under an object annotation or an answer.
type ClassificationAnnotation struct {
	Meta
	Feature       FeatureRef
	Value         ClassificationValue
	MessageID     string
	Confidence    *float64
	CustomMetrics []CustomMetric
}

// NewClassificationAnnotation builds a classification annotation with a fresh uuid.
func NewClassificationAnnotation(feature FeatureRef, value ClassificationValue) (*ClassificationAnnotation, error) {
	a := &ClassificationAnnotation{Meta: Meta{UUID: NewUUID()}, Feature: feature, Value: value}
	return a, a.Validate()
}

// NewText builds a text classification.
func NewText(feature FeatureRef, answer string) (*ClassificationAnnotation, error) {
	return NewClassificationAnnotation(feature, Text{Answer: answer})
}

// NewRadio builds a radio classification.
func NewRadio(feature FeatureRef, answer ClassificationAnswer) (*ClassificationAnnotation, error) {
	return NewClassificationAnnotation(feature, Radio{Answer: answer})
}

// NewChecklist builds a checklist classification with at least one answer.
func NewChecklist(feature FeatureRef, answers ...ClassificationAnswer) (*ClassificationAnnotation, error) {
	return NewClassificationAnnotation(feature, Checklist{Answers: answers})
}

func (*ClassificationAnnotation) isAnnotation() {}

func (a *ClassificationAnnotation) Validate() error {
	if err := a.Feature.Validate(); err != nil {
		return err
	}
	if err := validateScore(a.Confidence, a.CustomMetrics); err != nil {
		return err
	}
	switch v := a.Value.(type) {
	case Text:
		return nil
	case Radio:
		return v.Answer.validate()
	case Checklist:
		if len(v.Answers) == 0 {
			return errs.New(errs.InvalidAnswer, "checklist %q needs at least one answer", a.Feature).WithField("answers")
		}
		seen := make(map[FeatureRef]bool, len(v.Answers))
		for _, ans := range v.Answers {
			if err := ans.validate(); err != nil {
				return err
			}
			if seen[ans.Feature] {
				return errs.New(errs.InvalidAnswer, "checklist %q repeats answer %q", a.Feature, ans.Feature).WithField("answers")
			}
			seen[ans.Feature] = true
		}
		return nil
	case nil:
		return errs.New(errs.InvalidAnswer, "classification %q has no value", a.Feature)
	default:
		return errs.New(errs.InvalidAnswer, "unsupported classification value %T", v)
	}
}

// VideoClassificationAnnotation is a classification on one frame of a video.
type VideoClassificationAnnotation struct {
	ClassificationAnnotation
	Frame        int
	SegmentIndex *int
}

// NewVideoClassificationAnnotation builds a per-frame classification.
func NewVideoClassificationAnnotation(feature FeatureRef, value ClassificationValue, frame int, segmentIndex *int) (*VideoClassificationAnnotation, error) {
	a := &VideoClassificationAnnotation{
		ClassificationAnnotation: ClassificationAnnotation{Meta: Meta{UUID: NewUUID()}, Feature: feature, Value: value},
		Frame:                    frame,
		SegmentIndex:             segmentIndex,
	}
	return a, a.Validate()
}

func (a *VideoClassificationAnnotation) Validate() error {
	if err := validateFrame(a.Frame, a.SegmentIndex); err != nil {
		return err
	}
	return a.ClassificationAnnotation.Validate()
}
