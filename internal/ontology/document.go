package ontology

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/labelwire/internal/errs"
)

//go:embed ontology.schema.json
var documentSchemaJSON []byte

var documentSchema = mustCompileSchema(documentSchemaJSON)

func mustCompileSchema(data []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("compile ontology schema: %v", err))
	}
	return s
}

// Document is the normalized ontology document as served by the platform.
type Document struct {
	Tools           []ToolDoc           `json:"tools,omitempty" yaml:"tools,omitempty"`
	Classifications []ClassificationDoc `json:"classifications,omitempty" yaml:"classifications,omitempty"`
}

// ToolDoc is a tool entry of a Document.
type ToolDoc struct {
	Name            string              `json:"name" yaml:"name"`
	FeatureSchemaID string              `json:"featureSchemaId,omitempty" yaml:"featureSchemaId,omitempty"`
	Tool            string              `json:"tool" yaml:"tool"`
	Color           string              `json:"color,omitempty" yaml:"color,omitempty"`
	Classifications []ClassificationDoc `json:"classifications,omitempty" yaml:"classifications,omitempty"`
}

// ClassificationDoc is a classification entry of a Document. Older documents
// carry the question in Instructions only.
type ClassificationDoc struct {
	Name            string      `json:"name,omitempty" yaml:"name,omitempty"`
	Instructions    string      `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	FeatureSchemaID string      `json:"featureSchemaId,omitempty" yaml:"featureSchemaId,omitempty"`
	Type            string      `json:"type" yaml:"type"`
	Required        bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Options         []OptionDoc `json:"options,omitempty" yaml:"options,omitempty"`
}

// OptionDoc is an answer option; its nested classifications live under "options".
type OptionDoc struct {
	Value           string              `json:"value" yaml:"value"`
	Label           string              `json:"label,omitempty" yaml:"label,omitempty"`
	FeatureSchemaID string              `json:"featureSchemaId,omitempty" yaml:"featureSchemaId,omitempty"`
	Options         []ClassificationDoc `json:"options,omitempty" yaml:"options,omitempty"`
}

var toolKinds = map[string]ToolKind{
	"rectangle":           ToolBBox,
	"bbox":                ToolBBox,
	"polygon":             ToolPolygon,
	"line":                ToolLine,
	"point":               ToolPoint,
	"raster-segmentation": ToolSegmentation,
	"superpixel":          ToolSegmentation,
	"named-entity":        ToolNamedEntity,
	"edge":                ToolRelationship,
	"relationship":        ToolRelationship,
}

var classificationKinds = map[string]ClassificationKind{
	"text":               ClassificationText,
	"radio":              ClassificationRadio,
	"checklist":          ClassificationChecklist,
	"prompt":             ClassificationPrompt,
	"response":           ClassificationResponse,
	"response-text":      ClassificationResponse,
	"response-radio":     ClassificationResponse,
	"response-checklist": ClassificationResponse,
}

// Parse builds an ontology from a JSON or YAML document. The document is
// checked against the ontology JSON schema before it is decoded.
func Parse(data []byte) (*Ontology, error) {
	jsonData, err := toJSON(data)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidOntology, err, "parse document").WithOp("ontology.Parse")
	}

	result, err := documentSchema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidOntology, err, "validate document").WithOp("ontology.Parse")
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
		}
		return nil, errs.New(errs.InvalidOntology, "document does not match schema: %s",
			strings.Join(problems, "; ")).WithOp("ontology.Parse")
	}

	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, errs.Wrap(errs.InvalidOntology, err, "decode document").WithOp("ontology.Parse")
	}
	return FromDocument(doc)
}

// ParseFile reads and parses an ontology document from disk.
func ParseFile(path string) (*Ontology, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user supplied on purpose
	if err != nil {
		return nil, fmt.Errorf("read ontology: %w", err)
	}
	return Parse(data)
}

// toJSON converts YAML (a superset of JSON) into JSON bytes. JSON input is
// passed through untouched.
func toJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	if trimmed[0] == '{' && json.Valid(trimmed) {
		return trimmed, nil
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if _, ok := generic.(map[string]any); !ok {
		return nil, fmt.Errorf("document must be a mapping, got %T", generic)
	}
	return json.Marshal(generic)
}

// FromDocument converts a decoded document into an Ontology.
func FromDocument(doc Document) (*Ontology, error) {
	tools := make([]*Tool, 0, len(doc.Tools))
	for i, td := range doc.Tools {
		kind, ok := toolKinds[td.Tool]
		if !ok {
			return nil, invalidOntology(fmt.Sprintf("tools[%d].tool", i), "unknown tool %q", td.Tool)
		}
		nested, err := classificationsFromDocs(td.Classifications, fmt.Sprintf("tools[%d]", i))
		if err != nil {
			return nil, err
		}
		tools = append(tools, &Tool{
			Name:            td.Name,
			FeatureSchemaID: td.FeatureSchemaID,
			Kind:            kind,
			Color:           td.Color,
			Classifications: nested,
		})
	}

	classifications, err := classificationsFromDocs(doc.Classifications, "classifications")
	if err != nil {
		return nil, err
	}
	return New(tools, classifications)
}

func classificationsFromDocs(docs []ClassificationDoc, scope string) ([]*Classification, error) {
	out := make([]*Classification, 0, len(docs))
	for i, cd := range docs {
		field := fmt.Sprintf("%s[%d]", scope, i)
		kind, ok := classificationKinds[cd.Type]
		if !ok {
			return nil, invalidOntology(field+".type", "unknown classification type %q", cd.Type)
		}
		name := cd.Name
		if name == "" {
			name = cd.Instructions
		}
		c := &Classification{
			Name:            name,
			FeatureSchemaID: cd.FeatureSchemaID,
			Kind:            kind,
			Required:        cd.Required,
		}
		for j, od := range cd.Options {
			nested, err := classificationsFromDocs(od.Options, fmt.Sprintf("%s.options[%d]", field, j))
			if err != nil {
				return nil, err
			}
			c.Options = append(c.Options, &Option{
				Value:           od.Value,
				Label:           od.Label,
				FeatureSchemaID: od.FeatureSchemaID,
				Classifications: nested,
			})
		}
		out = append(out, c)
	}
	return out, nil
}

// ToDocument renders the ontology back into its document form.
func (o *Ontology) ToDocument() Document {
	var doc Document
	for _, t := range o.tools {
		doc.Tools = append(doc.Tools, ToolDoc{
			Name:            t.Name,
			FeatureSchemaID: t.FeatureSchemaID,
			Tool:            string(t.Kind),
			Color:           t.Color,
			Classifications: classificationDocs(t.Classifications),
		})
	}
	doc.Classifications = classificationDocs(o.classifications)
	return doc
}

func classificationDocs(cs []*Classification) []ClassificationDoc {
	var out []ClassificationDoc
	for _, c := range cs {
		cd := ClassificationDoc{
			Name:            c.Name,
			FeatureSchemaID: c.FeatureSchemaID,
			Type:            string(c.Kind),
			Required:        c.Required,
		}
		for _, opt := range c.Options {
			cd.Options = append(cd.Options, OptionDoc{
				Value:           opt.Value,
				Label:           opt.Label,
				FeatureSchemaID: opt.FeatureSchemaID,
				Options:         classificationDocs(opt.Classifications),
			})
		}
		out = append(out, cd)
	}
	return out
}
