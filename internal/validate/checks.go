package validate

import (
	"fmt"

	"github.com/ppiankov/labelwire/internal/convert"
	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/ontology"
	"github.com/ppiankov/labelwire/internal/wire"
)

// toolFor maps object and relationship variants to the tool kind they annotate.
var toolFor = map[wire.Kind]ontology.ToolKind{
	wire.KindRectangle:          ontology.ToolBBox,
	wire.KindDocumentRectangle:  ontology.ToolBBox,
	wire.KindPolygon:            ontology.ToolPolygon,
	wire.KindLine:               ontology.ToolLine,
	wire.KindPoint:              ontology.ToolPoint,
	wire.KindEntity:             ontology.ToolNamedEntity,
	wire.KindConversationEntity: ontology.ToolNamedEntity,
	wire.KindMask:               ontology.ToolSegmentation,
	wire.KindRelationship:       ontology.ToolRelationship,
}

// matchKind checks that the resolved top-level node accepts the record variant.
func matchKind(k wire.Kind, node *ontology.FeatureNode) error {
	if want, ok := toolFor[k]; ok {
		got, isTool := node.ToolKind()
		if !isTool {
			return errs.New(errs.WrongTool, "%s record targets classification %q", k, node.Name())
		}
		if got != want {
			return errs.New(errs.WrongTool, "%s record targets %s tool %q, want a %s tool", k, got, node.Name(), want)
		}
		return nil
	}

	ck, ok := node.ClassificationKind()
	if !ok {
		return errs.New(errs.WrongTool, "%s record targets tool %q", k, node.Name())
	}
	if !accepts(ck, k) {
		return errs.New(errs.WrongTool, "%s record targets %s classification %q", k, ck, node.Name())
	}
	return nil
}

// accepts reports whether a classification of kind ck can be answered by a
// record or nested classification of kind k.
func accepts(ck ontology.ClassificationKind, k wire.Kind) bool {
	switch ck {
	case ontology.ClassificationText:
		return k == wire.KindText
	case ontology.ClassificationRadio:
		return k == wire.KindRadio
	case ontology.ClassificationChecklist:
		return k == wire.KindChecklist
	case ontology.ClassificationPrompt:
		return k == wire.KindPrompt
	case ontology.ClassificationResponse:
		return k.IsClassification()
	}
	return false
}

// answers walks the selected options and nested classifications of rec,
// resolving each against the children of its parent node.
func (s *session) answers(rec wire.Record, node *ontology.FeatureNode) error {
	switch r := rec.(type) {
	case *wire.RadioRecord:
		return s.option(node, &r.Answer, "answer")
	case *wire.ChecklistRecord:
		return s.options(node, r.Answers, "answers")
	}
	if !rec.Kind().IsObject() {
		return nil
	}
	cs := objectClassifications(rec)
	for i := range cs {
		if err := s.nested(node, &cs[i]); err != nil {
			return withField(err, fmt.Sprintf("classifications[%d]", i))
		}
	}
	return nil
}

func (s *session) nested(parent *ontology.FeatureNode, c *wire.Classification) error {
	child, err := s.v.ontology.ResolveChild(parent, c)
	if err != nil {
		return notDeclared(err)
	}
	ck, _ := child.ClassificationKind()
	k := c.Kind()
	if k == "" {
		return errs.New(errs.InvalidAnswer, "classification %q needs exactly one of answer or answers", child.Name())
	}
	if !accepts(ck, k) {
		return errs.New(errs.InvalidAnswer, "%s classification %q cannot take a %s answer", ck, child.Name(), k)
	}
	switch k {
	case wire.KindRadio:
		return s.option(child, c.Answer.Option, "answer")
	case wire.KindChecklist:
		return s.options(child, c.Answers, "answers")
	}
	return nil
}

func (s *session) option(parent *ontology.FeatureNode, o *wire.Option, field string) error {
	_, err := s.resolveOption(parent, o)
	if err != nil {
		return withField(err, field)
	}
	return nil
}

func (s *session) options(parent *ontology.FeatureNode, os []wire.Option, field string) error {
	if len(os) == 0 {
		return errs.New(errs.InvalidAnswer, "checklist %q needs at least one answer", parent.Name()).WithField(field)
	}
	seen := make(map[*ontology.FeatureNode]bool, len(os))
	for i := range os {
		n, err := s.resolveOption(parent, &os[i])
		if err != nil {
			return withField(err, fmt.Sprintf("%s[%d]", field, i))
		}
		if seen[n] {
			return errs.New(errs.InvalidAnswer, "option %q is selected twice", n.Name()).
				WithField(fmt.Sprintf("%s[%d]", field, i))
		}
		seen[n] = true
	}
	return nil
}

func (s *session) resolveOption(parent *ontology.FeatureNode, o *wire.Option) (*ontology.FeatureNode, error) {
	n, err := s.v.ontology.ResolveChild(parent, o)
	if err != nil {
		return nil, notDeclared(err)
	}
	for i := range o.Classifications {
		if err := s.nested(n, &o.Classifications[i]); err != nil {
			return nil, withField(err, fmt.Sprintf("classifications[%d]", i))
		}
	}
	return n, nil
}

func withField(err error, field string) error {
	if e, ok := errs.As(err); ok {
		return e.WithField(field)
	}
	return err
}

// notDeclared turns a failed child lookup into an InvalidAnswer.
func notDeclared(err error) error {
	msg := err.Error()
	if e, ok := errs.As(err); ok {
		msg = e.Msg
	}
	return errs.New(errs.InvalidAnswer, "%s", msg)
}

func objectClassifications(rec wire.Record) []wire.Classification {
	switch r := rec.(type) {
	case *wire.RectangleRecord:
		return r.Classifications
	case *wire.DocumentRectangleRecord:
		return r.Classifications
	case *wire.PolygonRecord:
		return r.Classifications
	case *wire.LineRecord:
		return r.Classifications
	case *wire.PointRecord:
		return r.Classifications
	case *wire.EntityRecord:
		return r.Classifications
	case *wire.ConversationEntityRecord:
		return r.Classifications
	case *wire.MaskRecord:
		return r.Classifications
	}
	return nil
}

// modelConstraints builds the model form of rec to check score ranges,
// frame fields and metric values.
// featureKey requires exactly one of name and schemaId on a record.
func featureKey(base *wire.Base) error {
	switch {
	case base.Name != "" && base.SchemaID != "":
		return errs.New(errs.InvalidReference, "record sets both name %q and schemaId %q", base.Name, base.SchemaID).
			WithField("schemaId")
	case base.Name == "" && base.SchemaID == "":
		return errs.New(errs.InvalidReference, "record sets neither name nor schemaId").WithField("name")
	}
	return nil
}

func modelConstraints(rec wire.Record) error {
	if r, ok := rec.(*wire.RelationshipRecord); ok {
		a := &model.RelationshipAnnotation{
			Feature: model.FeatureRef{Name: r.Name, SchemaID: r.SchemaID},
			Source:  r.Relationship.Source,
			Target:  r.Relationship.Target,
			Type:    model.RelationshipType(r.Relationship.Type),
		}
		return a.Validate()
	}
	return convert.CheckRecord(rec)
}
