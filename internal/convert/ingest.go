package convert

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strconv"

	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/geometry"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/wire"
)

// Ingest groups records by data row, in first-seen order, and rebuilds one
// label per data row. Relationship endpoints must name records of the same
// data row.
func Ingest(records []wire.Record) ([]*model.Label, error) {
	return IngestSeq(slices.All(records))
}

// IngestSeq is Ingest over a sequence of (index, record) pairs.
func IngestSeq(records iter.Seq2[int, wire.Record]) ([]*model.Label, error) {
	var order []model.DataRowRef
	groups := make(map[model.DataRowRef]*group)

	for i, rec := range records {
		if rec == nil {
			return nil, errs.New(errs.UnrecognizedRecord, "record is nil").WithOp("convert.Ingest").WithIndex(i)
		}
		base := rec.Common()
		ref := model.DataRowRef{ID: base.DataRow.ID, GlobalKey: base.DataRow.GlobalKey}
		if err := ref.Validate(); err != nil {
			return nil, locate(err, i, base.UUID)
		}
		g, ok := groups[ref]
		if !ok {
			g = &group{label: &model.Label{DataRow: ref}, byUUID: make(map[string]model.Annotation)}
			groups[ref] = g
			order = append(order, ref)
		}
		g.records = append(g.records, indexed{index: i, rec: rec})
	}

	labels := make([]*model.Label, 0, len(order))
	for _, ref := range order {
		l, err := groups[ref].build()
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, nil
}

// IngestStream collects records from a decoder sequence and ingests them.
// The first record error stops ingestion.
func IngestStream(records iter.Seq2[wire.Record, error]) ([]*model.Label, error) {
	var recs []wire.Record
	for rec, err := range records {
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return Ingest(recs)
}

type indexed struct {
	index int
	rec   wire.Record
}

type group struct {
	label   *model.Label
	records []indexed
	byUUID  map[string]model.Annotation
}

func (g *group) build() (*model.Label, error) {
	slots := make([][]model.Annotation, len(g.records))

	for n, r := range g.records {
		base := r.rec.Common()
		if base.IsBenchmarkReferenceLabel {
			g.label.IsBenchmarkReference = true
		}
		if r.rec.Kind() == wire.KindRelationship {
			continue
		}
		anns, err := Annotations(r.rec)
		if err != nil {
			return nil, locate(err, r.index, base.UUID)
		}
		for _, a := range anns {
			id := a.Common().UUID
			if _, dup := g.byUUID[id]; dup {
				return nil, errs.New(errs.DuplicateUUID, "uuid repeated within data row %s", g.label.DataRow).
					WithOp("convert.Ingest").WithIndex(r.index).WithUUID(id)
			}
			g.byUUID[id] = a
		}
		slots[n] = anns
	}

	for n, r := range g.records {
		rel, ok := r.rec.(*wire.RelationshipRecord)
		if !ok {
			continue
		}
		a, err := g.relationship(rel)
		if err != nil {
			return nil, locate(err, r.index, rel.UUID)
		}
		slots[n] = []model.Annotation{a}
	}

	var at []int
	for n, anns := range slots {
		g.label.Add(anns...)
		for range anns {
			at = append(at, g.records[n].index)
		}
	}
	g.label.MediaType = inferMedia(g.records)

	if err := g.label.Validate(); err != nil {
		if e, ok := errs.As(err); ok && e.Index >= 0 && e.Index < len(at) {
			e.WithIndex(at[e.Index])
		}
		return nil, err
	}
	return g.label, nil
}

func (g *group) relationship(rec *wire.RelationshipRecord) (model.Annotation, error) {
	for _, end := range []string{rec.Relationship.Source, rec.Relationship.Target} {
		if _, ok := g.byUUID[end]; !ok {
			return nil, errs.New(errs.DanglingRelationship, "endpoint %q is not a record of data row %s",
				end, g.label.DataRow).WithOp("convert.Ingest").WithField("relationship")
		}
	}
	a := &model.RelationshipAnnotation{
		Meta:    meta(&rec.Base),
		Feature: featureRef(&rec.Base),
		Source:  rec.Relationship.Source,
		Target:  rec.Relationship.Target,
		Type:    model.RelationshipType(rec.Relationship.Type),
	}
	return a, a.Validate()
}

// MaxExpandedFrames bounds the annotations one classification record may
// expand to through its frames array.
const MaxExpandedFrames = 100_000

// Annotations converts one non-relationship record. Classification records
// carrying a frames array expand to one annotation per frame, at most
// MaxExpandedFrames per record.
func Annotations(rec wire.Record) ([]model.Annotation, error) {
	return annotations(rec, true)
}

// CheckRecord runs the constructors Annotations would run without expanding
// frame ranges, so its cost does not depend on the frame counts in the record.
func CheckRecord(rec wire.Record) error {
	_, err := annotations(rec, false)
	return err
}

func annotations(rec wire.Record, expand bool) ([]model.Annotation, error) {
	switch r := rec.(type) {
	case *wire.TextRecord:
		return classifications(&r.Base, &r.ClassificationFields, model.Text{Answer: r.Answer}, expand)
	case *wire.RadioRecord:
		return classifications(&r.Base, &r.ClassificationFields, model.Radio{Answer: answer(&r.Answer)}, expand)
	case *wire.ChecklistRecord:
		return classifications(&r.Base, &r.ClassificationFields, model.Checklist{Answers: answers(r.Answers)}, expand)
	case *wire.PromptRecord:
		a := &model.PromptAnnotation{Meta: meta(&r.Base), Feature: featureRef(&r.Base), Text: r.Prompt}
		return one(a, a.Validate())
	case *wire.ScalarMetricRecord:
		return scalarMetric(r)
	case *wire.ConfusionMatrixRecord:
		return confusionMatrix(r)
	case *wire.RelationshipRecord:
		return nil, errs.New(errs.UnrecognizedRecord, "relationships are resolved against their label").WithOp("convert.Ingest")
	}

	value, err := GeometryOf(rec)
	if err != nil {
		return nil, err
	}
	fields := objectFields(rec)
	base := rec.Common()
	obj := model.ObjectAnnotation{
		Meta:            meta(base),
		Feature:         featureRef(base),
		Value:           value,
		Classifications: nested(fields.Classifications),
	}
	obj.Confidence, obj.CustomMetrics = modelScores(fields.Scores)

	if fields.Frame != nil {
		a := &model.VideoObjectAnnotation{ObjectAnnotation: obj, Frame: *fields.Frame, SegmentIndex: cloneInt(fields.SegmentIndex)}
		return one(a, a.Validate())
	}
	return one(&obj, obj.Validate())
}

// GeometryOf builds the validated geometry value of an object record.
func GeometryOf(rec wire.Record) (geometry.Value, error) {
	switch r := rec.(type) {
	case *wire.RectangleRecord:
		return geometry.NewRectangleFromBBox(r.BBox.Top, r.BBox.Left, r.BBox.Height, r.BBox.Width)
	case *wire.DocumentRectangleRecord:
		rect := geometry.Rectangle{
			Start: geometry.Point{X: r.BBox.Left, Y: r.BBox.Top},
			End:   geometry.Point{X: r.BBox.Left + r.BBox.Width, Y: r.BBox.Top + r.BBox.Height},
		}
		return geometry.NewDocumentRectangle(rect, r.Page, geometry.Unit(r.Unit))
	case *wire.PolygonRecord:
		return geometry.NewPolygon(geometryPoints(r.Polygon)...)
	case *wire.LineRecord:
		return geometry.NewLine(geometryPoints(r.Line)...)
	case *wire.PointRecord:
		p := geometry.Point{X: r.Point.X, Y: r.Point.Y}
		return p, p.Validate()
	case *wire.EntityRecord:
		return geometry.NewTextEntity(r.Location.Start, r.Location.End)
	case *wire.ConversationEntityRecord:
		return geometry.NewConversationEntity(r.MessageID, r.Location.Start, r.Location.End)
	case *wire.MaskRecord:
		var m geometry.Mask
		if r.Mask.InstanceURI != "" || r.Mask.ColorRGB != nil {
			m.Ref = &geometry.MaskRef{URI: r.Mask.InstanceURI, Color: slices.Clone(r.Mask.ColorRGB)}
		}
		if r.Mask.Counts != nil || r.Mask.Size != nil {
			m.RLE = &geometry.RLE{Counts: slices.Clone(r.Mask.Counts), Size: slices.Clone(r.Mask.Size)}
		}
		return m, m.Validate()
	}
	return nil, errs.New(errs.UnrecognizedRecord, "%s record carries no geometry", rec.Kind()).WithOp("convert.GeometryOf")
}

func objectFields(rec wire.Record) *wire.ObjectFields {
	switch r := rec.(type) {
	case *wire.RectangleRecord:
		return &r.ObjectFields
	case *wire.DocumentRectangleRecord:
		return &r.ObjectFields
	case *wire.PolygonRecord:
		return &r.ObjectFields
	case *wire.LineRecord:
		return &r.ObjectFields
	case *wire.PointRecord:
		return &r.ObjectFields
	case *wire.EntityRecord:
		return &r.ObjectFields
	case *wire.ConversationEntityRecord:
		return &r.ObjectFields
	case *wire.MaskRecord:
		return &r.ObjectFields
	}
	return &wire.ObjectFields{}
}

func classifications(base *wire.Base, fields *wire.ClassificationFields, value model.ClassificationValue, expand bool) ([]model.Annotation, error) {
	c := model.ClassificationAnnotation{
		Meta:      meta(base),
		Feature:   featureRef(base),
		Value:     value,
		MessageID: fields.MessageID,
	}
	c.Confidence, c.CustomMetrics = modelScores(fields.Scores)

	switch {
	case fields.Frames != nil:
		if err := checkFrames(fields.Frames); err != nil {
			return nil, err
		}
		if !expand {
			if len(fields.Frames) == 0 {
				return nil, nil
			}
			v := &model.VideoClassificationAnnotation{ClassificationAnnotation: c, Frame: fields.Frames[0].Start, SegmentIndex: cloneInt(fields.SegmentIndex)}
			return one(v, v.Validate())
		}
		var out []model.Annotation
		for _, fr := range fields.Frames {
			for f := fr.Start; f <= fr.End; f++ {
				v := &model.VideoClassificationAnnotation{ClassificationAnnotation: c, Frame: f, SegmentIndex: cloneInt(fields.SegmentIndex)}
				if len(out) > 0 {
					v.Meta = model.Meta{UUID: model.NewUUID(), Extra: c.Extra}
				}
				if err := v.Validate(); err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		return out, nil
	case fields.Frame != nil:
		v := &model.VideoClassificationAnnotation{ClassificationAnnotation: c, Frame: *fields.Frame, SegmentIndex: cloneInt(fields.SegmentIndex)}
		return one(v, v.Validate())
	}
	return one(&c, c.Validate())
}

// checkFrames rejects invalid ranges and frame counts above MaxExpandedFrames.
func checkFrames(frames []wire.FrameRange) error {
	total := 0
	for _, fr := range frames {
		if fr.Start < 0 || fr.End < fr.Start {
			return errs.New(errs.InvalidGeometry, "frame range [%d, %d] is invalid", fr.Start, fr.End).
				WithField("frames")
		}
		span := fr.End - fr.Start
		if span >= MaxExpandedFrames-total {
			return errs.New(errs.InvalidGeometry, "frames cover more than %d frames", MaxExpandedFrames).
				WithField("frames")
		}
		total += span + 1
	}
	return nil
}

func nested(cs []wire.Classification) []*model.ClassificationAnnotation {
	if len(cs) == 0 {
		return nil
	}
	out := make([]*model.ClassificationAnnotation, len(cs))
	for i := range cs {
		c := &cs[i]
		a := &model.ClassificationAnnotation{Feature: model.FeatureRef{Name: c.Name, SchemaID: c.SchemaID}}
		a.Confidence, a.CustomMetrics = modelScores(c.Scores)
		switch c.Kind() {
		case wire.KindText:
			a.Value = model.Text{Answer: *c.Answer.Text}
		case wire.KindRadio:
			a.Value = model.Radio{Answer: answer(c.Answer.Option)}
		case wire.KindChecklist:
			a.Value = model.Checklist{Answers: answers(c.Answers)}
		}
		out[i] = a
	}
	return out
}

func answer(o *wire.Option) model.ClassificationAnswer {
	a := model.ClassificationAnswer{
		Feature:         model.FeatureRef{Name: o.Name, SchemaID: o.SchemaID},
		Classifications: nested(o.Classifications),
	}
	a.Confidence, a.CustomMetrics = modelScores(o.Scores)
	return a
}

func answers(os []wire.Option) []model.ClassificationAnswer {
	out := make([]model.ClassificationAnswer, len(os))
	for i := range os {
		out[i] = answer(&os[i])
	}
	return out
}

func scalarMetric(r *wire.ScalarMetricRecord) ([]model.Annotation, error) {
	m := &model.ScalarMetric{
		Meta:         meta(&r.Base),
		MetricName:   r.MetricName,
		FeatureName:  r.FeatureName,
		SubclassName: r.SubclassName,
		Aggregation:  model.Aggregation(r.Aggregation),
	}
	switch {
	case r.MetricValue.ByConfidence != nil:
		m.ByConfidence = make(map[float64]float64, len(r.MetricValue.ByConfidence))
		for k, v := range r.MetricValue.ByConfidence {
			c, err := parseConfidence(k)
			if err != nil {
				return nil, err
			}
			m.ByConfidence[c] = v
		}
	case r.MetricValue.Value != nil:
		m.Value = *r.MetricValue.Value
	default:
		return nil, errs.New(errs.InvalidMetric, "metricValue is null").WithField("metricValue")
	}
	return one(m, m.Validate())
}

func confusionMatrix(r *wire.ConfusionMatrixRecord) ([]model.Annotation, error) {
	m := &model.ConfusionMatrixMetric{
		Meta:         meta(&r.Base),
		MetricName:   r.MetricName,
		FeatureName:  r.FeatureName,
		SubclassName: r.SubclassName,
	}
	if r.ConfusionMatrix.ByConfidence != nil {
		m.ByConfidence = make(map[float64]model.ConfusionMatrixValue, len(r.ConfusionMatrix.ByConfidence))
		for k, counts := range r.ConfusionMatrix.ByConfidence {
			c, err := parseConfidence(k)
			if err != nil {
				return nil, err
			}
			if m.ByConfidence[c], err = confusionValue(counts); err != nil {
				return nil, err
			}
		}
	} else {
		var err error
		if m.Value, err = confusionValue(r.ConfusionMatrix.Counts); err != nil {
			return nil, err
		}
	}
	return one(m, m.Validate())
}

// confusionValue checks and converts a wire confusion tuple.
func confusionValue(counts []int64) (model.ConfusionMatrixValue, error) {
	var v model.ConfusionMatrixValue
	if len(counts) != len(v) {
		return v, errs.New(errs.InvalidMetric, "confusion matrix needs %d counts, got %d", len(v), len(counts)).
			WithField("confusionMatrix")
	}
	copy(v[:], counts)
	return v, nil
}

func parseConfidence(k string) (float64, error) {
	c, err := strconv.ParseFloat(k, 64)
	if err != nil {
		return 0, errs.Wrap(errs.InvalidMetric, err, "confidence key %q is not a number", k).WithField("metricValue")
	}
	return c, nil
}

func inferMedia(records []indexed) model.MediaType {
	var video, document, conversation, text bool
	for _, r := range records {
		switch rec := r.rec.(type) {
		case *wire.DocumentRectangleRecord:
			document = true
		case *wire.ConversationEntityRecord:
			conversation = true
		case *wire.EntityRecord:
			text = true
		case *wire.TextRecord:
			conversation = conversation || rec.MessageID != ""
		case *wire.RadioRecord:
			conversation = conversation || rec.MessageID != ""
		case *wire.ChecklistRecord:
			conversation = conversation || rec.MessageID != ""
		}
		if f := objectFields(r.rec); f.Frame != nil {
			video = true
		}
		if f := classificationFields(r.rec); f != nil && (f.Frame != nil || f.Frames != nil) {
			video = true
		}
	}
	switch {
	case video:
		return model.MediaVideo
	case document:
		return model.MediaDocument
	case conversation:
		return model.MediaConversation
	case text:
		return model.MediaText
	}
	return model.MediaGeneric
}

func meta(b *wire.Base) model.Meta {
	m := model.Meta{UUID: b.UUID}
	if m.UUID == "" {
		m.UUID = model.NewUUID()
	}
	if len(b.Extra) > 0 {
		m.Extra = make(map[string]any, len(b.Extra))
		for k, raw := range b.Extra {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				v = string(raw)
			}
			m.Extra[k] = v
		}
	}
	return m
}

func featureRef(b *wire.Base) model.FeatureRef {
	return model.FeatureRef{Name: b.Name, SchemaID: b.SchemaID}
}

func modelScores(s wire.Scores) (*float64, []model.CustomMetric) {
	var conf *float64
	if s.Confidence != nil {
		c := *s.Confidence
		conf = &c
	}
	var metrics []model.CustomMetric
	for _, m := range s.CustomMetrics {
		metrics = append(metrics, model.CustomMetric{Name: m.Name, Value: m.Value})
	}
	return conf, metrics
}

func geometryPoints(ps []wire.Point) []geometry.Point {
	out := make([]geometry.Point, len(ps))
	for i, p := range ps {
		out[i] = geometry.Point{X: p.X, Y: p.Y}
	}
	return out
}

func one(a model.Annotation, err error) ([]model.Annotation, error) {
	if err != nil {
		return nil, err
	}
	return []model.Annotation{a}, nil
}

// locate stamps a record index and uuid on a taxonomy error.
func locate(err error, index int, id string) error {
	if e, ok := errs.As(err); ok {
		if e.Index < 0 {
			e.WithIndex(index)
		}
		if e.UUID == "" {
			e.WithUUID(id)
		}
		if e.Op == "" {
			e.WithOp("convert.Ingest")
		}
		return err
	}
	return fmt.Errorf("record %d: %w", index, err)
}
