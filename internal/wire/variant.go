package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/ppiankov/labelwire/internal/errs"
)

// Kind names a record variant.
type Kind string

const (
	KindText               Kind = "text"
	KindRadio              Kind = "radio"
	KindChecklist          Kind = "checklist"
	KindPrompt             Kind = "prompt"
	KindRectangle          Kind = "rectangle"
	KindDocumentRectangle  Kind = "document_rectangle"
	KindPolygon            Kind = "polygon"
	KindLine               Kind = "line"
	KindPoint              Kind = "point"
	KindEntity             Kind = "text_entity"
	KindConversationEntity Kind = "conversation_entity"
	KindMask               Kind = "mask"
	KindRelationship       Kind = "relationship"
	KindScalarMetric       Kind = "scalar_metric"
	KindConfusionMatrix    Kind = "confusion_matrix"
)

// IsClassification reports whether k is a global classification variant.
func (k Kind) IsClassification() bool {
	return k == KindText || k == KindRadio || k == KindChecklist
}

// IsObject reports whether k carries a geometry or entity value.
func (k Kind) IsObject() bool {
	switch k {
	case KindRectangle, KindDocumentRectangle, KindPolygon, KindLine, KindPoint,
		KindEntity, KindConversationEntity, KindMask:
		return true
	}
	return false
}

// IsMetric reports whether k is a metric variant.
func (k Kind) IsMetric() bool {
	return k == KindScalarMetric || k == KindConfusionMatrix
}

// Variant describes one record shape.
type Variant struct {
	Kind Kind
	// Determinants is the minimal key set whose presence identifies the variant.
	Determinants []string

	newRecord func() Record
	known     map[string]bool
}

// New returns an empty record of this variant.
func (v *Variant) New() Record { return v.newRecord() }

// Known reports whether key is a field of this variant.
func (v *Variant) Known(key string) bool { return v.known[key] }

var variants = []*Variant{
	{Kind: KindText, Determinants: []string{"answer"}, newRecord: func() Record { return &TextRecord{} }},
	{Kind: KindRadio, Determinants: []string{"answer"}, newRecord: func() Record { return &RadioRecord{} }},
	{Kind: KindChecklist, Determinants: []string{"answers"}, newRecord: func() Record { return &ChecklistRecord{} }},
	{Kind: KindPrompt, Determinants: []string{"prompt"}, newRecord: func() Record { return &PromptRecord{} }},
	{Kind: KindRectangle, Determinants: []string{"bbox"}, newRecord: func() Record { return &RectangleRecord{} }},
	{Kind: KindDocumentRectangle, Determinants: []string{"bbox", "page", "unit"}, newRecord: func() Record { return &DocumentRectangleRecord{} }},
	{Kind: KindPolygon, Determinants: []string{"polygon"}, newRecord: func() Record { return &PolygonRecord{} }},
	{Kind: KindLine, Determinants: []string{"line"}, newRecord: func() Record { return &LineRecord{} }},
	{Kind: KindPoint, Determinants: []string{"point"}, newRecord: func() Record { return &PointRecord{} }},
	{Kind: KindEntity, Determinants: []string{"location"}, newRecord: func() Record { return &EntityRecord{} }},
	{Kind: KindConversationEntity, Determinants: []string{"location", "messageId"}, newRecord: func() Record { return &ConversationEntityRecord{} }},
	{Kind: KindMask, Determinants: []string{"mask"}, newRecord: func() Record { return &MaskRecord{} }},
	{Kind: KindRelationship, Determinants: []string{"relationship"}, newRecord: func() Record { return &RelationshipRecord{} }},
	{Kind: KindScalarMetric, Determinants: []string{"metricValue"}, newRecord: func() Record { return &ScalarMetricRecord{} }},
	{Kind: KindConfusionMatrix, Determinants: []string{"confusionMatrix"}, newRecord: func() Record { return &ConfusionMatrixRecord{} }},
}

var byKind = make(map[Kind]*Variant, len(variants))

func init() {
	for _, v := range variants {
		v.known = make(map[string]bool)
		collectKeys(reflect.TypeOf(v.newRecord()).Elem(), v.known)
		byKind[v.Kind] = v
	}
}

// collectKeys adds the JSON keys of t, descending into untagged embedded structs.
func collectKeys(t reflect.Type, keys map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, hasTag := f.Tag.Lookup("json")
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && !hasTag && f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, keys)
			continue
		}
		if !f.IsExported() || name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		keys[name] = true
	}
}

// Variants returns the variant table.
func Variants() []*Variant {
	return slices.Clone(variants)
}

// VariantOf returns the variant for kind.
func VariantOf(kind Kind) (*Variant, bool) {
	v, ok := byKind[kind]
	return v, ok
}

// Resolve picks the variant whose determinant set is the largest subset of
// the keys in fields. Text and Radio both key on "answer"; the tie is broken
// by the JSON type of the answer value.
func Resolve(fields map[string]json.RawMessage) (*Variant, error) {
	var best []*Variant
	size := 0
	for _, v := range variants {
		if !hasAll(fields, v.Determinants) {
			continue
		}
		switch n := len(v.Determinants); {
		case n > size:
			best, size = []*Variant{v}, n
		case n == size:
			best = append(best, v)
		}
	}

	switch {
	case len(best) == 1:
		return best[0], nil
	case len(best) == 0:
		return nil, unrecognized("no variant matches keys %s; candidates are %s",
			keyList(fields), candidateSets())
	case isAnswerTie(best):
		switch jsonType(fields["answer"]) {
		case '"':
			return byKind[KindText], nil
		case '{':
			return byKind[KindRadio], nil
		}
		return nil, unrecognized("answer must be a string or an object").WithField("answer")
	}

	kinds := make([]string, len(best))
	for i, v := range best {
		kinds[i] = string(v.Kind)
	}
	return nil, unrecognized("keys %s match several variants: %s", keyList(fields), strings.Join(kinds, ", "))
}

// Decode parses one JSON object into its record variant. Keys the variant
// does not define are kept in Base.Extra.
func Decode(data []byte) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errs.Wrap(errs.MalformedLine, err, "record is not a JSON object").WithOp("wire.Decode")
	}
	return Build(data, fields)
}

// DecodeFields builds a record from an already split JSON object.
func DecodeFields(fields map[string]json.RawMessage) (Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return Build(data, fields)
}

// Build resolves fields and unmarshals data, the same object's bytes, into
// the chosen variant.
func Build(data []byte, fields map[string]json.RawMessage) (Record, error) {
	v, err := Resolve(fields)
	if err != nil {
		return nil, err
	}
	rec := v.New()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, errs.Wrap(errs.UnrecognizedRecord, err, "fields do not fit %s record", v.Kind).WithOp("wire.Decode")
	}
	for k, raw := range fields {
		if v.known[k] {
			continue
		}
		base := rec.Common()
		if base.Extra == nil {
			base.Extra = make(map[string]json.RawMessage)
		}
		base.Extra[k] = raw
	}
	return rec, nil
}

// Encode marshals rec and merges its Extra keys. Keys defined by the
// variant take precedence over extras of the same name.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", rec.Kind(), err)
	}
	extra := rec.Common().Extra
	if len(extra) == 0 {
		return data, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("split %s record: %w", rec.Kind(), err)
	}
	for k, raw := range extra {
		if _, ok := fields[k]; !ok {
			fields[k] = raw
		}
	}
	return json.Marshal(fields)
}

func hasAll(fields map[string]json.RawMessage, keys []string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}

func isAnswerTie(vs []*Variant) bool {
	if len(vs) != 2 {
		return false
	}
	a, b := vs[0].Kind, vs[1].Kind
	return (a == KindText && b == KindRadio) || (a == KindRadio && b == KindText)
}

func unrecognized(format string, args ...any) *errs.Error {
	return errs.New(errs.UnrecognizedRecord, format, args...).WithOp("wire.Resolve")
}

func keyList(fields map[string]json.RawMessage) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return "{" + strings.Join(keys, ", ") + "}"
}

func candidateSets() string {
	sets := make([]string, len(variants))
	for i, v := range variants {
		sets[i] = "{" + strings.Join(v.Determinants, ", ") + "}"
	}
	return strings.Join(sets, " ")
}
