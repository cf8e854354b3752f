package model

import (
	"testing"

	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rect(t *testing.T) geometry.Rectangle {
	t.Helper()
	r, err := geometry.NewRectangle(geometry.Point{}, geometry.Point{X: 10, Y: 20})
	require.NoError(t, err)
	return r
}

func TestDataRowRef_Xor(t *testing.T) {
	_, err := NewDataRowRef("dr1", "")
	require.NoError(t, err)
	_, err = NewDataRowRef("", "gk")
	require.NoError(t, err)

	_, err = NewDataRowRef("dr1", "gk")
	assert.True(t, errs.Is(err, errs.InvalidReference))
	_, err = NewDataRowRef("", "")
	assert.True(t, errs.Is(err, errs.InvalidReference))

	assert.Equal(t, "id:dr1", DataRowID("dr1").String())
	assert.Equal(t, "globalKey:gk", DataRowGlobalKey("gk").String())
}

func TestDataRowSet(t *testing.T) {
	s := NewDataRowSet(DataRowID("a"))
	s.Add(DataRowGlobalKey("b"))

	assert.True(t, s.Contains(DataRowID("a")))
	assert.True(t, s.Contains(DataRowGlobalKey("b")))
	assert.False(t, s.Contains(DataRowID("b")))
}

func TestFeatureRef_Validate(t *testing.T) {
	assert.NoError(t, FeatureByName("car").Validate())
	assert.NoError(t, FeatureBySchemaID("ckcar00000000000000000000").Validate())
	assert.True(t, errs.Is(FeatureRef{}.Validate(), errs.InvalidReference))
	assert.True(t, errs.Is(FeatureBySchemaID("short").Validate(), errs.InvalidReference))
}

func TestNewObjectAnnotation_AssignsUUID(t *testing.T) {
	a, err := NewObjectAnnotation(FeatureByName("car"), rect(t))
	require.NoError(t, err)
	assert.True(t, ValidUUID(a.UUID))

	_, err = NewObjectAnnotation(FeatureRef{}, rect(t))
	assert.True(t, errs.Is(err, errs.InvalidReference))

	_, err = NewObjectAnnotation(FeatureByName("car"), nil)
	assert.True(t, errs.Is(err, errs.InvalidGeometry))
}

func TestObjectAnnotation_Confidence(t *testing.T) {
	a, err := NewObjectAnnotation(FeatureByName("car"), rect(t))
	require.NoError(t, err)

	c := 1.5
	a.Confidence = &c
	assert.True(t, errs.Is(a.Validate(), errs.InvalidMetric))
}

func TestNewChecklist_Boundary(t *testing.T) {
	_, err := NewChecklist(FeatureByName("weather"))
	assert.True(t, errs.Is(err, errs.InvalidAnswer))

	_, err = NewChecklist(FeatureByName("weather"), Answer("sunny"))
	assert.NoError(t, err)

	_, err = NewChecklist(FeatureByName("weather"), Answer("sunny"), Answer("sunny"))
	assert.True(t, errs.Is(err, errs.InvalidAnswer))
}

func TestNewRadio_NestedValidated(t *testing.T) {
	bad := &ClassificationAnnotation{Feature: FeatureByName("inner")}
	_, err := NewRadio(FeatureByName("q"), Answer("yes", bad))
	assert.True(t, errs.Is(err, errs.InvalidAnswer))
}

func TestNewRelationship_EnsuresEndpointUUIDs(t *testing.T) {
	a := &ObjectAnnotation{Feature: FeatureByName("car"), Value: rect(t)}
	b := &ObjectAnnotation{Feature: FeatureByName("car"), Value: rect(t)}

	rel, err := NewRelationship(FeatureByName("tows"), a, b, Unidirectional)
	require.NoError(t, err)
	assert.NotEmpty(t, a.UUID)
	assert.Equal(t, a.UUID, rel.Source)
	assert.Equal(t, b.UUID, rel.Target)

	text, _ := NewText(FeatureByName("note"), "x")
	_, err = NewRelationship(FeatureByName("tows"), a, text, Unidirectional)
	assert.True(t, errs.Is(err, errs.InvalidReference))

	_, err = NewRelationship(FeatureByName("tows"), a, b, RelationshipType("sideways"))
	assert.True(t, errs.Is(err, errs.InvalidReference))
}

func TestVideoAnnotations_Frame(t *testing.T) {
	_, err := NewVideoObjectAnnotation(FeatureByName("car"), rect(t), -1, nil)
	assert.True(t, errs.Is(err, errs.InvalidGeometry))

	seg := 0
	v, err := NewVideoClassificationAnnotation(FeatureByName("q"), Text{Answer: "x"}, 3, &seg)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Frame)
}

func TestScalarMetric(t *testing.T) {
	_, err := NewScalarMetric("", 0.5, "")
	require.NoError(t, err)

	_, err = NewScalarMetric("iou", 0.5, ArithmeticMean)
	assert.True(t, errs.Is(err, errs.InvalidMetric))

	_, err = NewScalarMetric("custom", 100_000_001, Sum)
	assert.True(t, errs.Is(err, errs.InvalidMetric))

	_, err = NewScalarMetric("custom", 1, ConfusionMatrix)
	assert.True(t, errs.Is(err, errs.InvalidMetric))

	m, _ := NewScalarMetric("", 1, "")
	assert.Equal(t, Aggregation(""), m.EffectiveAggregation())
	m.MetricName = "custom"
	assert.Equal(t, ArithmeticMean, m.EffectiveAggregation())
}

func confidenceMap(n int) map[float64]float64 {
	out := make(map[float64]float64, n)
	for i := 0; i < n; i++ {
		out[float64(i)/float64(n)] = float64(i)
	}
	return out
}

func TestScalarMetric_ConfidenceMapBoundary(t *testing.T) {
	tests := []struct {
		entries int
		wantErr bool
	}{
		{1, true},
		{2, false},
		{15, false},
		{16, true},
	}

	for _, tt := range tests {
		_, err := NewScalarMetricByConfidence("custom", confidenceMap(tt.entries), Sum)
		if tt.wantErr {
			assert.True(t, errs.Is(err, errs.InvalidMetric), "entries=%d", tt.entries)
		} else {
			assert.NoError(t, err, "entries=%d", tt.entries)
		}
	}

	_, err := NewScalarMetricByConfidence("custom", map[float64]float64{0.1: 1, 1.2: 2}, Sum)
	assert.True(t, errs.Is(err, errs.InvalidMetric))
}

func TestConfusionMatrixMetric(t *testing.T) {
	_, err := NewConfusionMatrixMetric("cm", ConfusionMatrixValue{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = NewConfusionMatrixMetric("", ConfusionMatrixValue{1, 2, 3, 4})
	assert.True(t, errs.Is(err, errs.InvalidMetric))

	_, err = NewConfusionMatrixMetric("cm", ConfusionMatrixValue{-1, 2, 3, 4})
	assert.True(t, errs.Is(err, errs.InvalidMetric))

	_, err = NewConfusionMatrixMetricByConfidence("cm", map[float64]ConfusionMatrixValue{0.5: {1, 1, 1, 1}})
	assert.True(t, errs.Is(err, errs.InvalidMetric))
}

func TestLabel_Invariants(t *testing.T) {
	a, _ := NewObjectAnnotation(FeatureByName("car"), rect(t))
	p1, _ := NewPromptAnnotation(FeatureByName("prompt"), "describe")
	p2, _ := NewPromptAnnotation(FeatureByName("prompt"), "again")

	_, err := NewLabel(DataRowID("dr1"), a, p1)
	require.NoError(t, err)

	_, err = NewLabel(DataRowID("dr1"), a, p1, p2)
	assert.True(t, errs.Is(err, errs.InvalidLabel))

	dup := &ObjectAnnotation{Meta: Meta{UUID: a.UUID}, Feature: FeatureByName("car"), Value: rect(t)}
	_, err = NewLabel(DataRowID("dr1"), a, dup)
	assert.True(t, errs.Is(err, errs.DuplicateUUID))

	_, err = NewLabel(DataRowRef{}, a)
	assert.True(t, errs.Is(err, errs.InvalidReference))
}

func TestLabel_DanglingRelationship(t *testing.T) {
	a, _ := NewObjectAnnotation(FeatureByName("car"), rect(t))
	b, _ := NewObjectAnnotation(FeatureByName("car"), rect(t))
	rel, err := NewRelationship(FeatureByName("tows"), a, b, Bidirectional)
	require.NoError(t, err)

	l, err := NewLabel(DataRowID("dr1"), a, b, rel)
	require.NoError(t, err)
	assert.Len(t, l.Relationships(), 1)

	found, ok := l.Find(b.UUID)
	require.True(t, ok)
	assert.Same(t, b, found)

	_, err = NewLabel(DataRowID("dr1"), a, rel)
	assert.True(t, errs.Is(err, errs.DanglingRelationship))
}

func TestLabel_ValidateLocatesAnnotation(t *testing.T) {
	bad := &ObjectAnnotation{Meta: Meta{UUID: "u-bad"}, Feature: FeatureByName("car")}
	_, err := NewLabel(DataRowID("dr1"), bad)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, 0, e.Index)
	assert.Equal(t, "u-bad", e.UUID)
}

func TestLabel_RelationshipToRelationship(t *testing.T) {
	a, _ := NewObjectAnnotation(FeatureByName("car"), rect(t))
	b, _ := NewObjectAnnotation(FeatureByName("car"), rect(t))
	rel, err := NewRelationship(FeatureByName("tows"), a, b, Unidirectional)
	require.NoError(t, err)
	meta := &RelationshipAnnotation{
		Meta:    Meta{UUID: "meta"},
		Feature: FeatureByName("tows"),
		Source:  rel.UUID,
		Target:  a.UUID,
		Type:    Unidirectional,
	}

	_, err = NewLabel(DataRowID("dr1"), a, b, rel, meta)
	e, ok := errs.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, errs.InvalidReference, e.Kind)
	assert.Equal(t, "meta", e.UUID)
}

func TestLabel_TypedNilAnnotation(t *testing.T) {
	a, _ := NewObjectAnnotation(FeatureByName("car"), rect(t))
	for _, nilAnn := range []Annotation{
		nil,
		(*ObjectAnnotation)(nil),
		(*VideoClassificationAnnotation)(nil),
		(*RelationshipAnnotation)(nil),
		(*ScalarMetric)(nil),
	} {
		l := &Label{DataRow: DataRowID("dr1"), Annotations: []Annotation{a, nilAnn}}
		var err error
		require.NotPanics(t, func() { err = l.Validate() })
		e, ok := errs.As(err)
		require.True(t, ok, "%T: got %v", nilAnn, err)
		assert.Equal(t, errs.InvalidLabel, e.Kind)
		assert.Equal(t, 1, e.Index)
	}
}
