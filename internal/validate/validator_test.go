package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/labelwire/internal/convert"
	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/geometry"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/ontology"
)

func testOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	choice := func(kind ontology.ClassificationKind, name string, values ...string) *ontology.Classification {
		c := &ontology.Classification{Name: name, Kind: kind}
		for _, v := range values {
			c.Options = append(c.Options, &ontology.Option{Value: v})
		}
		return c
	}

	weather := choice(ontology.ClassificationChecklist, "weather", "sunny", "windy", "rainy")
	weather.Options[0].FeatureSchemaID = "cksunny000000000000000000"
	weather.Options[2].Classifications = []*ontology.Classification{{Name: "intensity", Kind: ontology.ClassificationText}}

	o, err := ontology.New(
		[]*ontology.Tool{
			{Name: "car", Kind: ontology.ToolBBox, FeatureSchemaID: "ckcar00000000000000000000",
				Classifications: []*ontology.Classification{choice(ontology.ClassificationRadio, "color", "red", "blue")}},
			{Name: "zone", Kind: ontology.ToolPolygon},
			{Name: "route", Kind: ontology.ToolLine},
			{Name: "pin", Kind: ontology.ToolPoint},
			{Name: "span", Kind: ontology.ToolNamedEntity},
			{Name: "seg", Kind: ontology.ToolSegmentation},
			{Name: "tows", Kind: ontology.ToolRelationship},
		},
		[]*ontology.Classification{
			weather,
			{Name: "caption", Kind: ontology.ClassificationText},
			choice(ontology.ClassificationRadio, "q", "yes", "no"),
			{Name: "prompt", Kind: ontology.ClassificationPrompt},
			choice(ontology.ClassificationResponse, "reply", "good", "bad"),
		},
	)
	require.NoError(t, err)
	return o
}

func validateLines(t *testing.T, v *Validator, lines ...string) []Issue {
	t.Helper()
	issues, err := v.ValidateReader(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return issues
}

func kinds(issues []Issue) []errs.Kind {
	out := make([]errs.Kind, len(issues))
	for i, is := range issues {
		out[i] = is.Kind()
	}
	return out
}

func TestValidate_ChecklistByName(t *testing.T) {
	v := NewValidator(testOntology(t))
	issues := validateLines(t, v,
		`{"uuid":"u1","dataRow":{"globalKey":"gk"},"name":"weather","answers":[{"name":"sunny"},{"name":"windy"}]}`)
	assert.Empty(t, issues)
}

func TestValidate_DuplicateUUID(t *testing.T) {
	v := NewValidator(testOntology(t))
	issues := validateLines(t, v,
		`{"uuid":"same","dataRow":{"id":"dr1"},"name":"caption","answer":"one"}`,
		`{"uuid":"same","dataRow":{"id":"dr1"},"name":"caption","answer":"two"}`)

	require.Len(t, issues, 1)
	assert.Equal(t, errs.DuplicateUUID, issues[0].Kind())
	assert.Equal(t, 1, issues[0].Index)
}

func TestValidate_UnknownFeature(t *testing.T) {
	v := NewValidator(testOntology(t))
	issues := validateLines(t, v,
		`{"uuid":"u1","dataRow":{"id":"dr1"},"name":"truck","bbox":{"top":0,"left":0,"height":1,"width":1}}`)

	require.Len(t, issues, 1)
	assert.Equal(t, errs.UnknownFeature, issues[0].Kind())
	assert.Equal(t, "u1", issues[0].UUID)
}

func TestValidate_PerRecordChecks(t *testing.T) {
	tests := []struct {
		name string
		line string
		want errs.Kind
	}{
		{"wrong tool", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"zone","bbox":{"top":0,"left":0,"height":1,"width":1}}`, errs.WrongTool},
		{"object on classification", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"caption","point":{"x":1,"y":1}}`, errs.WrongTool},
		{"text on radio", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"q","answer":"yes"}`, errs.WrongTool},
		{"polygon of two points", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"zone","polygon":[{"x":0,"y":0},{"x":1,"y":1}]}`, errs.InvalidGeometry},
		{"line of one point", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"route","line":[{"x":0,"y":0}]}`, errs.InvalidGeometry},
		{"empty entity", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"span","location":{"start":3,"end":3}}`, errs.InvalidGeometry},
		{"mask color out of range", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"seg","mask":{"instanceURI":"https://x/m.png","colorRGB":[0,256,0]}}`, errs.InvalidGeometry},
		{"mask negative count", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"seg","mask":{"counts":[1,-1],"size":[2,2]}}`, errs.InvalidGeometry},
		{"undeclared radio option", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"q","answer":{"name":"maybe"}}`, errs.InvalidAnswer},
		{"undeclared nested option", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"car","bbox":{"top":0,"left":0,"height":1,"width":1},"classifications":[{"name":"color","answer":{"name":"green"}}]}`, errs.InvalidAnswer},
		{"undeclared nested classification", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"car","bbox":{"top":0,"left":0,"height":1,"width":1},"classifications":[{"name":"size","answer":"big"}]}`, errs.InvalidAnswer},
		{"empty checklist", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"weather","answers":[]}`, errs.InvalidAnswer},
		{"checklist repeats option", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"weather","answers":[{"name":"sunny"},{"schemaId":"cksunny000000000000000000"}]}`, errs.InvalidAnswer},
		{"nested answer under option", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"weather","answers":[{"name":"rainy","classifications":[{"name":"intensity","answer":{"name":"x"}}]}]}`, errs.InvalidAnswer},
		{"confidence out of range", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"caption","answer":"x","confidence":1.5}`, errs.InvalidMetric},
		{"reserved metric name", `{"uuid":"u","dataRow":{"id":"dr1"},"metricName":"iou","metricValue":0.5}`, errs.InvalidMetric},
		{"both data row keys", `{"uuid":"u","dataRow":{"id":"dr1","globalKey":"gk"},"name":"caption","answer":"x"}`, errs.InvalidReference},
		{"unknown relationship type", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"tows","relationship":{"source":"a","target":"b","type":"sideways"}}`, errs.InvalidReference},
		{"no variant", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"car"}`, errs.UnrecognizedRecord},
		{"name and schema id", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"car","schemaId":"ckcar00000000000000000000","bbox":{"top":0,"left":0,"height":1,"width":1}}`, errs.InvalidReference},
		{"no feature key", `{"uuid":"u","dataRow":{"id":"dr1"},"answer":"x"}`, errs.InvalidReference},
		{"reversed frame range", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"caption","answer":"x","frames":[{"start":5,"end":4}]}`, errs.InvalidGeometry},
		{"negative frame", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"caption","answer":"x","frames":[{"start":-1,"end":4}]}`, errs.InvalidGeometry},
		{"too many frames", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"caption","answer":"hi","frames":[{"start":0,"end":3000000}]}`, errs.InvalidGeometry},
		{"frames add up past the cap", `{"uuid":"u","dataRow":{"id":"dr1"},"name":"caption","answer":"hi","frames":[{"start":0,"end":60000},{"start":70000,"end":130000}]}`, errs.InvalidGeometry},
	}

	v := NewValidator(testOntology(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := validateLines(t, v, tt.line)
			require.Len(t, issues, 1, "issues: %v", issues)
			assert.Equal(t, tt.want, issues[0].Kind(), issues[0].Error())
			assert.Equal(t, 0, issues[0].Index)
		})
	}
}

func TestValidate_FrameRangesAreNotExpanded(t *testing.T) {
	v := NewValidator(testOntology(t))
	line := `{"uuid":"u1","dataRow":{"id":"dr1"},"name":"caption","answer":"hi","frames":[{"start":0,"end":99999}]}`

	allocs := testing.AllocsPerRun(5, func() {
		issues, err := v.ValidateReader(strings.NewReader(line))
		if err != nil || len(issues) != 0 {
			t.Fatalf("issues=%v err=%v", issues, err)
		}
	})
	assert.Less(t, allocs, 1000.0)
}

func TestValidate_AcceptsEveryVariant(t *testing.T) {
	v := NewValidator(testOntology(t))
	issues := validateLines(t, v,
		`{"uuid":"a","dataRow":{"id":"dr1"},"schemaId":"ckcar00000000000000000000","bbox":{"top":0,"left":0,"height":1,"width":1},"classifications":[{"name":"color","answer":{"name":"red"}}]}`,
		`{"uuid":"b","dataRow":{"id":"dr1"},"name":"car","bbox":{"top":0,"left":0,"height":1,"width":1},"page":0,"unit":"PIXELS"}`,
		`{"uuid":"c","dataRow":{"id":"dr1"},"name":"zone","polygon":[{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1}]}`,
		`{"uuid":"d","dataRow":{"id":"dr1"},"name":"route","line":[{"x":0,"y":0},{"x":1,"y":1}]}`,
		`{"uuid":"e","dataRow":{"id":"dr1"},"name":"pin","point":{"x":0,"y":0}}`,
		`{"uuid":"f","dataRow":{"id":"dr1"},"name":"span","location":{"start":0,"end":1}}`,
		`{"uuid":"g","dataRow":{"id":"dr1"},"name":"span","location":{"start":0,"end":1},"messageId":"m1"}`,
		`{"uuid":"h","dataRow":{"id":"dr1"},"name":"seg","mask":{"instanceURI":"https://x/m.png","colorRGB":[255,255,255]}}`,
		`{"uuid":"i","dataRow":{"id":"dr1"},"name":"seg","mask":{"counts":[0,4],"size":[2,2]}}`,
		`{"uuid":"j","dataRow":{"id":"dr1"},"name":"tows","relationship":{"source":"a","target":"c","type":"bidirectional"}}`,
		`{"uuid":"k","dataRow":{"id":"dr1"},"name":"caption","answer":"free text","messageId":"m1"}`,
		`{"uuid":"l","dataRow":{"id":"dr1"},"name":"q","answer":{"name":"yes"},"frame":3}`,
		`{"uuid":"m","dataRow":{"id":"dr1"},"name":"weather","answers":[{"name":"rainy","classifications":[{"name":"intensity","answer":"light"}]}]}`,
		`{"uuid":"n","dataRow":{"id":"dr1"},"name":"prompt","prompt":"describe"}`,
		`{"uuid":"o","dataRow":{"id":"dr1"},"name":"reply","answer":{"name":"good"}}`,
		`{"uuid":"p","dataRow":{"id":"dr1"},"metricValue":{"0.5":1,"0.9":2},"metricName":"custom","aggregation":"SUM"}`,
		`{"uuid":"q","dataRow":{"id":"dr1"},"metricName":"cm","confusionMatrix":[1,2,3,4]}`,
	)
	assert.Empty(t, issues, "issues: %v", issues)
}

func TestValidate_Relationships(t *testing.T) {
	v := NewValidator(testOntology(t))
	issues := validateLines(t, v,
		`{"uuid":"r","dataRow":{"id":"dr1"},"name":"tows","relationship":{"source":"a","target":"b","type":"unidirectional"}}`,
		`{"uuid":"a","dataRow":{"id":"dr1"},"name":"pin","point":{"x":0,"y":0}}`,
		`{"uuid":"b","dataRow":{"id":"dr2"},"name":"pin","point":{"x":0,"y":0}}`,
		`{"uuid":"r2","dataRow":{"id":"dr1"},"name":"tows","relationship":{"source":"a","target":"zzz","type":"unidirectional"}}`,
	)

	assert.Equal(t, []errs.Kind{errs.DanglingRelationship, errs.DanglingRelationship}, kinds(issues))
	assert.Equal(t, 0, issues[0].Index)
	assert.Equal(t, 3, issues[1].Index)
}

func TestValidate_DataRows(t *testing.T) {
	v := NewValidator(testOntology(t), WithDataRows(model.NewDataRowSet(model.DataRowID("dr1"))))
	issues := validateLines(t, v,
		`{"uuid":"u1","dataRow":{"id":"dr1"},"name":"caption","answer":"x"}`,
		`{"uuid":"u2","dataRow":{"id":"dr9"},"name":"caption","answer":"x"}`,
		`{"uuid":"u3","dataRow":{"globalKey":"dr1"},"name":"caption","answer":"x"}`,
	)
	assert.Equal(t, []errs.Kind{errs.MissingDataRow, errs.MissingDataRow}, kinds(issues))
	assert.Equal(t, 1, issues[0].Index)
	assert.Equal(t, 2, issues[1].Index)
}

func TestValidate_StrictUUIDs(t *testing.T) {
	line := `{"uuid":"u1","dataRow":{"id":"dr1"},"name":"caption","answer":"x"}`
	assert.Empty(t, validateLines(t, NewValidator(testOntology(t)), line))

	issues := validateLines(t, NewValidator(testOntology(t), WithStrictUUIDs()), line)
	require.Len(t, issues, 1)
	assert.Equal(t, errs.InvalidReference, issues[0].Kind())
}

func TestValidate_StreamErrors(t *testing.T) {
	v := NewValidator(testOntology(t))
	issues := validateLines(t, v,
		`{"uuid":"u1","dataRow":{"id":"dr1"},"name":"car"}`,
		`{"uuid":"u2","dataRow":{"id":"dr1"},"name":"truck","answer":"x"}`,
		`{broken`,
		`{"uuid":"u4","dataRow":{"id":"dr1"},"name":"truck","answer":"x"}`,
	)

	assert.Equal(t, []errs.Kind{errs.UnrecognizedRecord, errs.UnknownFeature, errs.MalformedLine}, kinds(issues))
	assert.Equal(t, []int{0, 1, 2}, []int{issues[0].Index, issues[1].Index, issues[2].Index})
	assert.Equal(t, "u1", issues[0].UUID)
}

func TestValidate_Deterministic(t *testing.T) {
	v := NewValidator(testOntology(t))
	lines := []string{
		`{"uuid":"r","dataRow":{"id":"dr1"},"name":"tows","relationship":{"source":"x","target":"y","type":"unidirectional"}}`,
		`{"uuid":"a","dataRow":{"id":"dr1"},"name":"truck","point":{"x":0,"y":0}}`,
		`{"uuid":"a","dataRow":{"id":"dr1"},"name":"pin","point":{"x":0,"y":0}}`,
	}
	first := validateLines(t, v, lines...)
	second := validateLines(t, v, lines...)
	assert.Equal(t, first, second)
	assert.Equal(t, []errs.Kind{errs.DanglingRelationship, errs.UnknownFeature, errs.DuplicateUUID}, kinds(first))
}

func TestValidate_EmittedLabelIsClean(t *testing.T) {
	o := testOntology(t)

	rect, err := geometry.NewRectangle(geometry.Point{}, geometry.Point{X: 10, Y: 20})
	require.NoError(t, err)
	color, _ := model.NewRadio(model.FeatureByName("color"), model.Answer("blue"))
	car, err := model.NewObjectAnnotation(model.FeatureBySchemaID("ckcar00000000000000000000"), rect, color)
	require.NoError(t, err)
	pin, _ := model.NewObjectAnnotation(model.FeatureByName("pin"), geometry.Point{X: 1, Y: 1})
	tows, err := model.NewRelationship(model.FeatureByName("tows"), car, pin, model.Unidirectional)
	require.NoError(t, err)
	intensity, _ := model.NewText(model.FeatureByName("intensity"), "heavy")
	weather, _ := model.NewChecklist(model.FeatureByName("weather"), model.Answer("sunny"), model.Answer("rainy", intensity))

	label, err := model.NewLabel(model.DataRowID("dr1"), car, pin, tows, weather)
	require.NoError(t, err)
	recs, err := convert.EmitLabel(label, convert.Options{})
	require.NoError(t, err)

	issues := ValidateRecords(o, recs, WithDataRows(model.NewDataRowSet(model.DataRowID("dr1"))), WithStrictUUIDs())
	assert.Empty(t, issues, "issues: %v", issues)
	assert.NoError(t, Errors(issues))
}
