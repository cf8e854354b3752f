// Package wire defines the NDJSON record shapes exchanged with the platform
// and the determinant-key table used to recognize which shape a decoded JSON
// object is.
package wire

import "encoding/json"

// DataRow references a data row by exactly one of ID or GlobalKey.
type DataRow struct {
	ID        string `json:"id,omitempty"`
	GlobalKey string `json:"globalKey,omitempty"`
}

// Base carries the fields common to every record.
type Base struct {
	UUID                      string  `json:"uuid"`
	DataRow                   DataRow `json:"dataRow"`
	Name                      string  `json:"name,omitempty"`
	SchemaID                  string  `json:"schemaId,omitempty"`
	IsBenchmarkReferenceLabel bool    `json:"isBenchmarkReferenceLabel,omitempty"`

	// Extra holds keys the resolved variant does not define. They are
	// re-emitted verbatim by Encode.
	Extra map[string]json.RawMessage `json:"-"`
}

// Common returns the shared fields.
func (b *Base) Common() *Base { return b }

func (b *Base) FeatureName() string     { return b.Name }
func (b *Base) FeatureSchemaID() string { return b.SchemaID }

// Record is implemented by every top-level record variant.
type Record interface {
	Kind() Kind
	Common() *Base
}

// CustomMetric is a named score.
type CustomMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Scores are the optional prediction scores of a record, answer or nested classification.
type Scores struct {
	Confidence    *float64       `json:"confidence,omitempty"`
	CustomMetrics []CustomMetric `json:"customMetrics,omitempty"`
}

// FrameRange is an inclusive frame span.
type FrameRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// VideoFields place a record on a single video frame.
type VideoFields struct {
	Frame        *int `json:"frame,omitempty"`
	SegmentIndex *int `json:"segmentIndex,omitempty"`
}

// ClassificationFields are shared by text, radio and checklist records.
type ClassificationFields struct {
	VideoFields
	Frames    []FrameRange `json:"frames,omitempty"`
	MessageID string       `json:"messageId,omitempty"`
	Scores
}

// ObjectFields are shared by geometry records.
type ObjectFields struct {
	VideoFields
	Classifications []Classification `json:"classifications,omitempty"`
	Scores
}

// Classification is a nested classification under an object or an answer.
// Exactly one of Answer or Answers is set.
type Classification struct {
	Name     string   `json:"name,omitempty"`
	SchemaID string   `json:"schemaId,omitempty"`
	Answer   *Answer  `json:"answer,omitempty"`
	Answers  []Option `json:"answers,omitempty"`
	Scores
}

func (c *Classification) FeatureName() string     { return c.Name }
func (c *Classification) FeatureSchemaID() string { return c.SchemaID }

// Kind returns KindText, KindRadio or KindChecklist, or "" when the nested
// classification carries neither or both answer forms.
func (c *Classification) Kind() Kind {
	switch {
	case c.Answer != nil && c.Answers != nil:
		return ""
	case c.Answers != nil:
		return KindChecklist
	case c.Answer != nil && c.Answer.Text != nil:
		return KindText
	case c.Answer != nil && c.Answer.Option != nil:
		return KindRadio
	}
	return ""
}

// Option is a selected answer, optionally with nested classifications.
type Option struct {
	Name            string           `json:"name,omitempty"`
	SchemaID        string           `json:"schemaId,omitempty"`
	Classifications []Classification `json:"classifications,omitempty"`
	Scores
}

func (o *Option) FeatureName() string     { return o.Name }
func (o *Option) FeatureSchemaID() string { return o.SchemaID }

// Point is a wire coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is the wire rectangle.
type BBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
}

// Location is a text span.
type Location struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Mask is either a hosted instance image with a color or an RLE.
type Mask struct {
	InstanceURI string `json:"instanceURI,omitempty"`
	ColorRGB    []int  `json:"colorRGB,omitempty"`
	Counts      []int  `json:"counts,omitempty"`
	Size        []int  `json:"size,omitempty"`
}

// Relationship names two record uuids.
type Relationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type TextRecord struct {
	Base
	Answer string `json:"answer"`
	ClassificationFields
}

type RadioRecord struct {
	Base
	Answer Option `json:"answer"`
	ClassificationFields
}

type ChecklistRecord struct {
	Base
	Answers []Option `json:"answers"`
	ClassificationFields
}

type PromptRecord struct {
	Base
	Prompt string `json:"prompt"`
}

type RectangleRecord struct {
	Base
	BBox BBox `json:"bbox"`
	ObjectFields
}

type DocumentRectangleRecord struct {
	Base
	BBox BBox   `json:"bbox"`
	Page int    `json:"page"`
	Unit string `json:"unit"`
	ObjectFields
}

type PolygonRecord struct {
	Base
	Polygon []Point `json:"polygon"`
	ObjectFields
}

type LineRecord struct {
	Base
	Line []Point `json:"line"`
	ObjectFields
}

type PointRecord struct {
	Base
	Point Point `json:"point"`
	ObjectFields
}

type EntityRecord struct {
	Base
	Location Location `json:"location"`
	ObjectFields
}

type ConversationEntityRecord struct {
	Base
	Location  Location `json:"location"`
	MessageID string   `json:"messageId"`
	ObjectFields
}

type MaskRecord struct {
	Base
	Mask Mask `json:"mask"`
	ObjectFields
}

type RelationshipRecord struct {
	Base
	Relationship Relationship `json:"relationship"`
	Scores
}

type ScalarMetricRecord struct {
	Base
	MetricValue  MetricValue `json:"metricValue"`
	MetricName   string      `json:"metricName,omitempty"`
	FeatureName  string      `json:"featureName,omitempty"`
	SubclassName string      `json:"subclassName,omitempty"`
	Aggregation  string      `json:"aggregation,omitempty"`
}

type ConfusionMatrixRecord struct {
	Base
	ConfusionMatrix ConfusionMatrixValue `json:"confusionMatrix"`
	MetricName      string               `json:"metricName,omitempty"`
	FeatureName     string               `json:"featureName,omitempty"`
	SubclassName    string               `json:"subclassName,omitempty"`
	Aggregation     string               `json:"aggregation,omitempty"`
}

func (*TextRecord) Kind() Kind               { return KindText }
func (*RadioRecord) Kind() Kind              { return KindRadio }
func (*ChecklistRecord) Kind() Kind          { return KindChecklist }
func (*PromptRecord) Kind() Kind             { return KindPrompt }
func (*RectangleRecord) Kind() Kind          { return KindRectangle }
func (*DocumentRectangleRecord) Kind() Kind  { return KindDocumentRectangle }
func (*PolygonRecord) Kind() Kind            { return KindPolygon }
func (*LineRecord) Kind() Kind               { return KindLine }
func (*PointRecord) Kind() Kind              { return KindPoint }
func (*EntityRecord) Kind() Kind             { return KindEntity }
func (*ConversationEntityRecord) Kind() Kind { return KindConversationEntity }
func (*MaskRecord) Kind() Kind               { return KindMask }
func (*RelationshipRecord) Kind() Kind       { return KindRelationship }
func (*ScalarMetricRecord) Kind() Kind       { return KindScalarMetric }
func (*ConfusionMatrixRecord) Kind() Kind    { return KindConfusionMatrix }
