// Package convert turns labels into wire records and wire records back into
// labels.
package convert

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/geometry"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/wire"
)

// Options control emission.
type Options struct {
	// CoalesceVideoClassifications merges per-frame classifications that share
	// feature, answer and segment index into one record with a frames array.
	CoalesceVideoClassifications bool
	// PreferNames emits the feature name when a reference carries both a
	// name and a schema id. By default the schema id wins.
	PreferNames bool
}

// Emit lazily converts labels to wire records, preserving label order and
// annotation order within each label. The caller's labels are not modified.
func Emit(labels iter.Seq[*model.Label], opts Options) iter.Seq2[wire.Record, error] {
	return func(yield func(wire.Record, error) bool) {
		i := 0
		for l := range labels {
			recs, err := EmitLabel(l, opts)
			if err != nil {
				yield(nil, fmt.Errorf("emit label %d: %w", i, err))
				return
			}
			for _, rec := range recs {
				if !yield(rec, nil) {
					return
				}
			}
			i++
		}
	}
}

// EmitAll converts labels into one slice of records.
func EmitAll(labels []*model.Label, opts Options) ([]wire.Record, error) {
	var out []wire.Record
	for rec, err := range Emit(slices.Values(labels), opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// EmitLabel converts one label. Annotations referenced by a relationship get
// fresh uuids and relationship endpoints are rewritten to match; every
// relationship record also gets a fresh uuid.
func EmitLabel(l *model.Label, opts Options) ([]wire.Record, error) {
	if l == nil {
		return nil, errs.New(errs.InvalidLabel, "label is nil").WithOp("convert.Emit")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	e := &emitter{label: l, opts: opts, rewrites: make(map[string]string)}
	for _, r := range l.Relationships() {
		e.rewrites[r.Source] = ""
		e.rewrites[r.Target] = ""
	}
	for id := range e.rewrites {
		e.rewrites[id] = model.NewUUID()
	}
	if opts.CoalesceVideoClassifications {
		if err := e.groupVideoClassifications(); err != nil {
			return nil, err
		}
	}

	out := make([]wire.Record, 0, len(l.Annotations))
	for i, a := range l.Annotations {
		rec, err := e.record(a)
		if err != nil {
			if ee, ok := errs.As(err); ok && ee.Index < 0 {
				ee.WithIndex(i).WithUUID(a.Common().UUID)
			}
			return nil, err
		}
		if rec == nil {
			continue
		}
		base := rec.Common()
		base.DataRow = wire.DataRow{ID: l.DataRow.ID, GlobalKey: l.DataRow.GlobalKey}
		base.IsBenchmarkReferenceLabel = l.IsBenchmarkReference
		if base.Extra, err = rawExtra(a.Common().Extra); err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

type emitter struct {
	label    *model.Label
	opts     Options
	rewrites map[string]string

	// first member of each coalesced group -> frames of the group
	frames map[*model.VideoClassificationAnnotation][]wire.FrameRange
	// non-first members of coalesced groups
	merged map[*model.VideoClassificationAnnotation]bool
}

func (e *emitter) uuid(m *model.Meta) string {
	if id, ok := e.rewrites[m.UUID]; ok {
		return id
	}
	if m.UUID == "" {
		return model.NewUUID()
	}
	return m.UUID
}

func (e *emitter) base(m *model.Meta, f model.FeatureRef) wire.Base {
	b := wire.Base{UUID: e.uuid(m)}
	b.Name, b.SchemaID = e.feature(f)
	return b
}

func (e *emitter) feature(f model.FeatureRef) (name, schemaID string) {
	if f.SchemaID != "" && (f.Name == "" || !e.opts.PreferNames) {
		return "", f.SchemaID
	}
	return f.Name, ""
}

func (e *emitter) record(a model.Annotation) (wire.Record, error) {
	switch a := a.(type) {
	case *model.ObjectAnnotation:
		return e.object(a, nil, nil)
	case *model.VideoObjectAnnotation:
		frame := a.Frame
		return e.object(&a.ObjectAnnotation, &frame, a.SegmentIndex)
	case *model.ClassificationAnnotation:
		return e.classification(a, nil, nil)
	case *model.VideoClassificationAnnotation:
		if e.merged[a] {
			return nil, nil
		}
		frame := a.Frame
		rec, err := e.classification(&a.ClassificationAnnotation, &frame, a.SegmentIndex)
		if err != nil {
			return nil, err
		}
		if ranges, ok := e.frames[a]; ok {
			fields := classificationFields(rec)
			fields.Frame = nil
			fields.Frames = ranges
		}
		return rec, nil
	case *model.RelationshipAnnotation:
		rec := &wire.RelationshipRecord{
			Base: e.base(&a.Meta, a.Feature),
			Relationship: wire.Relationship{
				Source: e.endpoint(a.Source),
				Target: e.endpoint(a.Target),
				Type:   string(a.Type),
			},
		}
		rec.UUID = model.NewUUID()
		return rec, nil
	case *model.PromptAnnotation:
		return &wire.PromptRecord{Base: e.base(&a.Meta, a.Feature), Prompt: a.Text}, nil
	case *model.ScalarMetric:
		return e.scalarMetric(a), nil
	case *model.ConfusionMatrixMetric:
		return e.confusionMatrix(a), nil
	}
	return nil, errs.New(errs.InvalidLabel, "unsupported annotation type %T", a).WithOp("convert.Emit")
}

func (e *emitter) endpoint(id string) string {
	if nid, ok := e.rewrites[id]; ok {
		return nid
	}
	return id
}

func (e *emitter) object(a *model.ObjectAnnotation, frame, segment *int) (wire.Record, error) {
	fields := wire.ObjectFields{
		VideoFields:     wire.VideoFields{Frame: frame, SegmentIndex: cloneInt(segment)},
		Classifications: e.nested(a.Classifications),
		Scores:          scores(a.Confidence, a.CustomMetrics),
	}
	base := e.base(&a.Meta, a.Feature)

	switch v := a.Value.(type) {
	case geometry.Rectangle:
		return &wire.RectangleRecord{Base: base, BBox: bbox(v), ObjectFields: fields}, nil
	case geometry.DocumentRectangle:
		return &wire.DocumentRectangleRecord{
			Base: base, BBox: bbox(v.Rectangle), Page: v.Page, Unit: string(v.Unit), ObjectFields: fields,
		}, nil
	case geometry.Polygon:
		return &wire.PolygonRecord{Base: base, Polygon: points(v.Points), ObjectFields: fields}, nil
	case geometry.Line:
		return &wire.LineRecord{Base: base, Line: points(v.Points), ObjectFields: fields}, nil
	case geometry.Point:
		return &wire.PointRecord{Base: base, Point: wire.Point{X: v.X, Y: v.Y}, ObjectFields: fields}, nil
	case geometry.TextEntity:
		return &wire.EntityRecord{Base: base, Location: wire.Location{Start: v.Start, End: v.End}, ObjectFields: fields}, nil
	case geometry.ConversationEntity:
		return &wire.ConversationEntityRecord{
			Base: base, Location: wire.Location{Start: v.Start, End: v.End}, MessageID: v.MessageID, ObjectFields: fields,
		}, nil
	case geometry.Mask:
		var m wire.Mask
		if v.Ref != nil {
			m.InstanceURI, m.ColorRGB = v.Ref.URI, slices.Clone(v.Ref.Color)
		} else if v.RLE != nil {
			m.Counts, m.Size = slices.Clone(v.RLE.Counts), slices.Clone(v.RLE.Size)
		}
		return &wire.MaskRecord{Base: base, Mask: m, ObjectFields: fields}, nil
	}
	return nil, errs.New(errs.InvalidGeometry, "unsupported geometry %T", a.Value).WithOp("convert.Emit")
}

func (e *emitter) classification(a *model.ClassificationAnnotation, frame, segment *int) (wire.Record, error) {
	fields := wire.ClassificationFields{
		VideoFields: wire.VideoFields{Frame: frame, SegmentIndex: cloneInt(segment)},
		MessageID:   a.MessageID,
		Scores:      scores(a.Confidence, a.CustomMetrics),
	}
	base := e.base(&a.Meta, a.Feature)

	switch v := a.Value.(type) {
	case model.Text:
		return &wire.TextRecord{Base: base, Answer: v.Answer, ClassificationFields: fields}, nil
	case model.Radio:
		return &wire.RadioRecord{Base: base, Answer: e.option(v.Answer), ClassificationFields: fields}, nil
	case model.Checklist:
		return &wire.ChecklistRecord{Base: base, Answers: e.options(v.Answers), ClassificationFields: fields}, nil
	}
	return nil, errs.New(errs.InvalidAnswer, "unsupported classification value %T", a.Value).WithOp("convert.Emit")
}

func (e *emitter) nested(cs []*model.ClassificationAnnotation) []wire.Classification {
	if len(cs) == 0 {
		return nil
	}
	out := make([]wire.Classification, 0, len(cs))
	for _, c := range cs {
		wc := wire.Classification{Scores: scores(c.Confidence, c.CustomMetrics)}
		wc.Name, wc.SchemaID = e.feature(c.Feature)
		switch v := c.Value.(type) {
		case model.Text:
			wc.Answer = wire.TextAnswer(v.Answer)
		case model.Radio:
			wc.Answer = wire.OptionAnswer(e.option(v.Answer))
		case model.Checklist:
			wc.Answers = e.options(v.Answers)
		}
		out = append(out, wc)
	}
	return out
}

func (e *emitter) option(a model.ClassificationAnswer) wire.Option {
	o := wire.Option{Classifications: e.nested(a.Classifications), Scores: scores(a.Confidence, a.CustomMetrics)}
	o.Name, o.SchemaID = e.feature(a.Feature)
	return o
}

func (e *emitter) options(as []model.ClassificationAnswer) []wire.Option {
	out := make([]wire.Option, len(as))
	for i, a := range as {
		out[i] = e.option(a)
	}
	return out
}

func (e *emitter) scalarMetric(m *model.ScalarMetric) wire.Record {
	rec := &wire.ScalarMetricRecord{
		Base:         wire.Base{UUID: e.uuid(&m.Meta)},
		MetricName:   m.MetricName,
		FeatureName:  m.FeatureName,
		SubclassName: m.SubclassName,
		Aggregation:  string(m.EffectiveAggregation()),
	}
	if m.ByConfidence != nil {
		rec.MetricValue.ByConfidence = make(map[string]float64, len(m.ByConfidence))
		for c, v := range m.ByConfidence {
			rec.MetricValue.ByConfidence[confidenceKey(c)] = v
		}
	} else {
		v := m.Value
		rec.MetricValue.Value = &v
	}
	return rec
}

func (e *emitter) confusionMatrix(m *model.ConfusionMatrixMetric) wire.Record {
	rec := &wire.ConfusionMatrixRecord{
		Base:         wire.Base{UUID: e.uuid(&m.Meta)},
		MetricName:   m.MetricName,
		FeatureName:  m.FeatureName,
		SubclassName: m.SubclassName,
		Aggregation:  string(model.ConfusionMatrix),
	}
	if m.ByConfidence != nil {
		rec.ConfusionMatrix.ByConfidence = make(map[string][]int64, len(m.ByConfidence))
		for c, v := range m.ByConfidence {
			rec.ConfusionMatrix.ByConfidence[confidenceKey(c)] = slices.Clone(v[:])
		}
	} else {
		rec.ConfusionMatrix.Counts = slices.Clone(m.Value[:])
	}
	return rec
}

// groupVideoClassifications finds per-frame classifications that can share
// one record: same feature, same answer, same segment index. Frames of a
// group are folded into runs of consecutive frames. Relationship endpoints
// keep their own record so their uuid survives.
func (e *emitter) groupVideoClassifications() error {
	type group struct {
		first  *model.VideoClassificationAnnotation
		frames []int
	}
	var order []string
	groups := make(map[string]*group)

	for _, a := range e.label.Annotations {
		v, ok := a.(*model.VideoClassificationAnnotation)
		if !ok {
			continue
		}
		if _, endpoint := e.rewrites[v.UUID]; endpoint {
			continue
		}
		key, err := e.groupKey(v)
		if err != nil {
			return err
		}
		g, ok := groups[key]
		if !ok {
			g = &group{first: v}
			groups[key] = g
			order = append(order, key)
		} else {
			if e.merged == nil {
				e.merged = make(map[*model.VideoClassificationAnnotation]bool)
			}
			e.merged[v] = true
		}
		g.frames = append(g.frames, v.Frame)
	}

	e.frames = make(map[*model.VideoClassificationAnnotation][]wire.FrameRange, len(order))
	for _, key := range order {
		g := groups[key]
		e.frames[g.first] = frameRuns(g.frames)
	}
	return nil
}

func (e *emitter) groupKey(v *model.VideoClassificationAnnotation) (string, error) {
	rec, err := e.classification(&v.ClassificationAnnotation, nil, nil)
	if err != nil {
		return "", err
	}
	var answer any
	switch r := rec.(type) {
	case *wire.TextRecord:
		answer = r.Answer
	case *wire.RadioRecord:
		answer = r.Answer
	case *wire.ChecklistRecord:
		answer = r.Answers
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("marshal answer: %w", err)
	}
	name, id := e.feature(v.Feature)
	seg := "-"
	if v.SegmentIndex != nil {
		seg = strconv.Itoa(*v.SegmentIndex)
	}
	return strings.Join([]string{name, id, seg, v.MessageID, string(data)}, "\x00"), nil
}

// frameRuns folds frames into sorted runs of consecutive frames.
func frameRuns(frames []int) []wire.FrameRange {
	sorted := slices.Clone(frames)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var out []wire.FrameRange
	for _, f := range sorted {
		if n := len(out); n > 0 && out[n-1].End+1 == f {
			out[n-1].End = f
			continue
		}
		out = append(out, wire.FrameRange{Start: f, End: f})
	}
	return out
}

func classificationFields(rec wire.Record) *wire.ClassificationFields {
	switch r := rec.(type) {
	case *wire.TextRecord:
		return &r.ClassificationFields
	case *wire.RadioRecord:
		return &r.ClassificationFields
	case *wire.ChecklistRecord:
		return &r.ClassificationFields
	}
	return nil
}

func scores(confidence *float64, metrics []model.CustomMetric) wire.Scores {
	var s wire.Scores
	if confidence != nil {
		c := *confidence
		s.Confidence = &c
	}
	for _, m := range metrics {
		s.CustomMetrics = append(s.CustomMetrics, wire.CustomMetric{Name: m.Name, Value: m.Value})
	}
	return s
}

func bbox(r geometry.Rectangle) wire.BBox {
	top, left, height, width := r.BBox()
	return wire.BBox{Top: top, Left: left, Height: height, Width: width}
}

func points(ps []geometry.Point) []wire.Point {
	out := make([]wire.Point, len(ps))
	for i, p := range ps {
		out[i] = wire.Point{X: p.X, Y: p.Y}
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func confidenceKey(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}

func rawExtra(extra map[string]any) (map[string]json.RawMessage, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal extra %q: %w", k, err)
		}
		out[k] = data
	}
	return out, nil
}
