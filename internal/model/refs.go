package model

import (
	"github.com/google/uuid"

	"github.com/ppiankov/labelwire/internal/errs"
)

// SchemaIDLength is the length of a feature schema id.
const SchemaIDLength = 25

// DataRowRef identifies a data row by exactly one of ID or GlobalKey.
type DataRowRef struct {
	ID        string
	GlobalKey string
}

// NewDataRowRef builds a reference; exactly one of id and globalKey must be set.
func NewDataRowRef(id, globalKey string) (DataRowRef, error) {
	r := DataRowRef{ID: id, GlobalKey: globalKey}
	return r, r.Validate()
}

// DataRowID references a data row by id.
func DataRowID(id string) DataRowRef { return DataRowRef{ID: id} }

// DataRowGlobalKey references a data row by global key.
func DataRowGlobalKey(key string) DataRowRef { return DataRowRef{GlobalKey: key} }

// Validate checks xor(ID, GlobalKey).
func (r DataRowRef) Validate() error {
	if (r.ID == "") == (r.GlobalKey == "") {
		return errs.New(errs.InvalidReference, "exactly one of id or globalKey must be set").WithField("dataRow")
	}
	return nil
}

func (r DataRowRef) String() string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	return "globalKey:" + r.GlobalKey
}

// DataRowSet is a set of known data rows.
type DataRowSet map[DataRowRef]struct{}

// NewDataRowSet builds a set from refs.
func NewDataRowSet(refs ...DataRowRef) DataRowSet {
	s := make(DataRowSet, len(refs))
	for _, r := range refs {
		s[r] = struct{}{}
	}
	return s
}

// Add inserts r.
func (s DataRowSet) Add(r DataRowRef) { s[r] = struct{}{} }

// Contains reports whether r is in the set.
func (s DataRowSet) Contains(r DataRowRef) bool {
	_, ok := s[r]
	return ok
}

// FeatureRef names an ontology feature by name, schema id, or both.
type FeatureRef struct {
	Name     string
	SchemaID string
}

// FeatureByName references a feature by name.
func FeatureByName(name string) FeatureRef { return FeatureRef{Name: name} }

// FeatureBySchemaID references a feature by schema id.
func FeatureBySchemaID(id string) FeatureRef { return FeatureRef{SchemaID: id} }

// FeatureName implements ontology.Ref.
func (f FeatureRef) FeatureName() string { return f.Name }

// FeatureSchemaID implements ontology.Ref.
func (f FeatureRef) FeatureSchemaID() string { return f.SchemaID }

// IsZero reports whether neither name nor schema id is set.
func (f FeatureRef) IsZero() bool { return f.Name == "" && f.SchemaID == "" }

// Validate checks that the reference names something.
func (f FeatureRef) Validate() error {
	if f.IsZero() {
		return errs.New(errs.InvalidReference, "one of name or schemaId must be set").WithField("feature")
	}
	if f.SchemaID != "" && len(f.SchemaID) != SchemaIDLength {
		return errs.New(errs.InvalidReference, "schemaId %q must be %d characters", f.SchemaID, SchemaIDLength).
			WithField("schemaId")
	}
	return nil
}

func (f FeatureRef) String() string {
	if f.Name != "" {
		return f.Name
	}
	return f.SchemaID
}

// NewUUID returns a fresh random annotation uuid.
func NewUUID() string {
	return uuid.NewString()
}

// ValidUUID reports whether s parses as a uuid.
func ValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
