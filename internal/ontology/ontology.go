// Package ontology models a project's schema of tools, classifications and
// options, and resolves feature references against it.
//
// An Ontology is read-only after construction and safe for concurrent use.
package ontology

import (
	"fmt"
	"strings"

	"github.com/ppiankov/labelwire/internal/errs"
)

// SchemaIDLength is the length of a feature schema id.
const SchemaIDLength = 25

// ToolKind is the kind of an object tool.
type ToolKind string

const (
	ToolBBox         ToolKind = "rectangle"
	ToolPolygon      ToolKind = "polygon"
	ToolLine         ToolKind = "line"
	ToolPoint        ToolKind = "point"
	ToolSegmentation ToolKind = "raster-segmentation"
	ToolNamedEntity  ToolKind = "named-entity"
	ToolRelationship ToolKind = "edge"
)

// ClassificationKind is the kind of a classification.
type ClassificationKind string

const (
	ClassificationText      ClassificationKind = "text"
	ClassificationRadio     ClassificationKind = "radio"
	ClassificationChecklist ClassificationKind = "checklist"
	ClassificationPrompt    ClassificationKind = "prompt"
	ClassificationResponse  ClassificationKind = "response"
)

// Tool is an object tool with optional nested classifications.
type Tool struct {
	Name            string
	FeatureSchemaID string
	Kind            ToolKind
	Color           string
	Classifications []*Classification
}

// Classification is a question asked globally or under a tool or option.
type Classification struct {
	Name            string
	FeatureSchemaID string
	Kind            ClassificationKind
	Required        bool
	Options         []*Option
}

// Option is one answer of a radio, checklist or response classification.
type Option struct {
	Value           string
	Label           string
	FeatureSchemaID string
	Classifications []*Classification
}

// NodeKind tells which ontology element a FeatureNode wraps.
type NodeKind int

const (
	NodeTool NodeKind = iota + 1
	NodeClassification
	NodeOption
)

func (k NodeKind) String() string {
	switch k {
	case NodeTool:
		return "tool"
	case NodeClassification:
		return "classification"
	case NodeOption:
		return "option"
	default:
		return "unknown"
	}
}

// FeatureNode is a tool, classification or option positioned in the tree.
type FeatureNode struct {
	Kind           NodeKind
	Tool           *Tool
	Classification *Classification
	Option         *Option
	Parent         *FeatureNode

	path     []string
	children []*FeatureNode
}

// Name returns the node's name (an option's value).
func (n *FeatureNode) Name() string {
	switch n.Kind {
	case NodeTool:
		return n.Tool.Name
	case NodeClassification:
		return n.Classification.Name
	case NodeOption:
		return n.Option.Value
	}
	return ""
}

// SchemaID returns the node's feature schema id.
func (n *FeatureNode) SchemaID() string {
	switch n.Kind {
	case NodeTool:
		return n.Tool.FeatureSchemaID
	case NodeClassification:
		return n.Classification.FeatureSchemaID
	case NodeOption:
		return n.Option.FeatureSchemaID
	}
	return ""
}

// Path returns the slash-joined names from the root to n.
func (n *FeatureNode) Path() string {
	return strings.Join(n.path, "/")
}

// Children returns the nested classifications of a tool or option, or the
// options of a classification.
func (n *FeatureNode) Children() []*FeatureNode {
	return n.children
}

// ToolKind returns the tool kind for tool nodes.
func (n *FeatureNode) ToolKind() (ToolKind, bool) {
	if n.Kind != NodeTool {
		return "", false
	}
	return n.Tool.Kind, true
}

// ClassificationKind returns the classification kind for classification nodes.
func (n *FeatureNode) ClassificationKind() (ClassificationKind, bool) {
	if n.Kind != NodeClassification {
		return "", false
	}
	return n.Classification.Kind, true
}

// Ref is anything that names a feature by name and/or schema id.
type Ref interface {
	FeatureName() string
	FeatureSchemaID() string
}

// Ontology is an ordered collection of tools and top-level classifications.
type Ontology struct {
	tools           []*Tool
	classifications []*Classification

	roots      []*FeatureNode
	bySchemaID map[string]*FeatureNode
}

// New builds an ontology, checking that schema ids are unique and well
// formed, sibling names are unique, and choice classifications have options.
func New(tools []*Tool, classifications []*Classification) (*Ontology, error) {
	o := &Ontology{
		tools:           tools,
		classifications: classifications,
		bySchemaID:      make(map[string]*FeatureNode),
	}

	b := builder{o: o, visiting: make(map[*Classification]bool)}
	for i, t := range tools {
		if t == nil {
			return nil, invalidOntology(fmt.Sprintf("tools[%d]", i), "tool is nil")
		}
		n, err := b.tool(t, nil)
		if err != nil {
			return nil, err
		}
		o.roots = append(o.roots, n)
	}
	for i, c := range classifications {
		if c == nil {
			return nil, invalidOntology(fmt.Sprintf("classifications[%d]", i), "classification is nil")
		}
		n, err := b.classification(c, nil)
		if err != nil {
			return nil, err
		}
		o.roots = append(o.roots, n)
	}
	if err := uniqueNames(o.roots, ""); err != nil {
		return nil, err
	}
	return o, nil
}

// Tools returns the ontology's tools in declaration order.
func (o *Ontology) Tools() []*Tool { return o.tools }

// Classifications returns the top-level classifications in declaration order.
func (o *Ontology) Classifications() []*Classification { return o.classifications }

// LookupByName walks the tree by names: the first element names a tool or
// top-level classification, each further element a child of the previous.
func (o *Ontology) LookupByName(path ...string) (*FeatureNode, bool) {
	if len(path) == 0 {
		return nil, false
	}
	n := findByName(o.roots, path[0])
	for _, name := range path[1:] {
		if n == nil {
			return nil, false
		}
		n = findByName(n.children, name)
	}
	return n, n != nil
}

// LookupBySchemaID finds any node by its feature schema id.
func (o *Ontology) LookupBySchemaID(id string) (*FeatureNode, bool) {
	if id == "" {
		return nil, false
	}
	n, ok := o.bySchemaID[id]
	return n, ok
}

// Resolve finds a top-level tool or classification for ref. The schema id is
// tried first, then the name; if both are given they must agree.
func (o *Ontology) Resolve(ref Ref) (*FeatureNode, error) {
	return resolveAmong(o.roots, ref, "")
}

// ResolveChild resolves ref among the direct children of parent: nested
// classifications of a tool or option, or options of a classification.
func (o *Ontology) ResolveChild(parent *FeatureNode, ref Ref) (*FeatureNode, error) {
	return resolveAmong(parent.children, ref, parent.Path())
}

func resolveAmong(nodes []*FeatureNode, ref Ref, scope string) (*FeatureNode, error) {
	name, id := ref.FeatureName(), ref.FeatureSchemaID()
	where := "ontology"
	if scope != "" {
		where = scope
	}

	if id != "" {
		for _, n := range nodes {
			if n.SchemaID() == id {
				if name != "" && n.Name() != name {
					return nil, errs.New(errs.UnknownFeature,
						"schema id %q names %q in %s, not %q", id, n.Name(), where, name)
				}
				return n, nil
			}
		}
		if name == "" {
			return nil, errs.New(errs.UnknownFeature, "no feature with schema id %q in %s", id, where)
		}
	}
	if name != "" {
		if n := findByName(nodes, name); n != nil {
			if id != "" && n.SchemaID() != "" && n.SchemaID() != id {
				return nil, errs.New(errs.UnknownFeature,
					"feature %q in %s has schema id %q, not %q", name, where, n.SchemaID(), id)
			}
			return n, nil
		}
		return nil, errs.New(errs.UnknownFeature, "no feature named %q in %s", name, where)
	}
	return nil, errs.New(errs.UnknownFeature, "feature reference has neither name nor schema id")
}

func findByName(nodes []*FeatureNode, name string) *FeatureNode {
	for _, n := range nodes {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

func invalidOntology(field, format string, args ...any) error {
	return errs.New(errs.InvalidOntology, format, args...).WithOp("ontology").WithField(field)
}

type builder struct {
	o        *Ontology
	visiting map[*Classification]bool
}

func (b *builder) node(n *FeatureNode, parent *FeatureNode) error {
	n.Parent = parent
	if parent != nil {
		n.path = append(append([]string(nil), parent.path...), n.Name())
	} else {
		n.path = []string{n.Name()}
	}
	if n.Name() == "" {
		return invalidOntology(n.Path(), "%s has no name", n.Kind)
	}
	if id := n.SchemaID(); id != "" {
		if len(id) != SchemaIDLength {
			return invalidOntology(n.Path(), "schema id %q must be %d characters", id, SchemaIDLength)
		}
		if prev, dup := b.o.bySchemaID[id]; dup {
			return invalidOntology(n.Path(), "schema id %q already used by %s", id, prev.Path())
		}
		b.o.bySchemaID[id] = n
	}
	return nil
}

func (b *builder) tool(t *Tool, parent *FeatureNode) (*FeatureNode, error) {
	n := &FeatureNode{Kind: NodeTool, Tool: t}
	if err := b.node(n, parent); err != nil {
		return nil, err
	}
	if !t.Kind.Valid() {
		return nil, invalidOntology(n.Path(), "unknown tool kind %q", t.Kind)
	}
	for _, c := range t.Classifications {
		child, err := b.classification(c, n)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	return n, uniqueNames(n.children, n.Path())
}

func (b *builder) classification(c *Classification, parent *FeatureNode) (*FeatureNode, error) {
	if c == nil {
		return nil, invalidOntology(parentPath(parent), "nil classification")
	}
	if b.visiting[c] {
		return nil, invalidOntology(parentPath(parent), "classification %q nests itself", c.Name)
	}
	b.visiting[c] = true
	defer delete(b.visiting, c)

	n := &FeatureNode{Kind: NodeClassification, Classification: c}
	if err := b.node(n, parent); err != nil {
		return nil, err
	}
	switch c.Kind {
	case ClassificationRadio, ClassificationChecklist:
		if len(c.Options) == 0 {
			return nil, invalidOntology(n.Path(), "%s classification needs at least one option", c.Kind)
		}
	case ClassificationText, ClassificationPrompt, ClassificationResponse:
	default:
		return nil, invalidOntology(n.Path(), "unknown classification kind %q", c.Kind)
	}
	for _, opt := range c.Options {
		if opt == nil {
			return nil, invalidOntology(n.Path(), "nil option")
		}
		child := &FeatureNode{Kind: NodeOption, Option: opt}
		if err := b.node(child, n); err != nil {
			return nil, err
		}
		for _, nested := range opt.Classifications {
			gc, err := b.classification(nested, child)
			if err != nil {
				return nil, err
			}
			child.children = append(child.children, gc)
		}
		if err := uniqueNames(child.children, child.Path()); err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	return n, uniqueNames(n.children, n.Path())
}

func parentPath(n *FeatureNode) string {
	if n == nil {
		return ""
	}
	return n.Path()
}

func uniqueNames(nodes []*FeatureNode, scope string) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Name()] {
			return invalidOntology(scope, "duplicate name %q", n.Name())
		}
		seen[n.Name()] = true
	}
	return nil
}

// Valid reports whether k is a known tool kind.
func (k ToolKind) Valid() bool {
	switch k {
	case ToolBBox, ToolPolygon, ToolLine, ToolPoint, ToolSegmentation, ToolNamedEntity, ToolRelationship:
		return true
	}
	return false
}
