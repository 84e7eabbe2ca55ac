// Package clinical declares the five record types the pipeline converts and
// the column semantics of each. Nothing here is inferred from data: a column
// is an identifier, timestamp, decimal or text because its schema says so.
package clinical

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

// RecordType identifies one of the fixed extract schemas.
type RecordType string

const (
	Patient   RecordType = "patients"
	Admission RecordType = "admissions"
	ICUStay   RecordType = "icustays"
	LabEvent  RecordType = "labevents"
	LabItem   RecordType = "d_labitems"
)

// All lists the record types in their conventional processing order.
var All = []RecordType{Patient, Admission, ICUStay, LabEvent, LabItem}

// ParseRecordType accepts a record type name in any case, with or without a
// file extension (e.g. "PATIENTS.csv").
func ParseRecordType(s string) (RecordType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	for _, rt := range All {
		if string(rt) == name {
			return rt, nil
		}
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown record type %q", s)
}

// SourceFile returns the conventional extract file name, e.g. "PATIENTS.csv".
func (rt RecordType) SourceFile() string {
	return strings.ToUpper(string(rt)) + ".csv"
}

// ColumnSpec declares how one column is normalized.
type ColumnSpec struct {
	Name     string
	Kind     table.Kind
	// Width is the physical width a numeric column is pinned to after
	// cleaning. Ingestion treats it as a floor.
	Width    table.Width
	// Required columns must be present in the source and non-null after
	// cleaning under the strict policy.
	Required bool
	// Nullable marks identifiers that may legitimately be absent, such as a
	// lab event recorded outside any admission.
	Nullable bool
}

// FieldNullable reports whether the cleaned column may hold nulls. Only a
// required column cleaned under the strict policy is guaranteed complete.
func (c ColumnSpec) FieldNullable(strict bool) bool {
	return c.Nullable || !c.Required || !strict
}

// Schema is the declared column set of a record type.
type Schema struct {
	RecordType  RecordType
	Columns     []ColumnSpec
	// Categorical lists the text columns trimmed as categories.
	Categorical []string
	// Lookup marks static dictionary tables as opposed to fact tables.
	Lookup      bool
}

func id(name string) ColumnSpec {
	return ColumnSpec{Name: name, Kind: table.Identifier, Width: table.Int32}
}

func requiredID(name string) ColumnSpec {
	c := id(name)
	c.Required = true
	return c
}

func nullableID(name string) ColumnSpec {
	c := id(name)
	c.Nullable = true
	return c
}

func flag(name string) ColumnSpec {
	return ColumnSpec{Name: name, Kind: table.Identifier, Width: table.Int8}
}

func ts(name string) ColumnSpec {
	return ColumnSpec{Name: name, Kind: table.Timestamp}
}

func requiredTS(name string) ColumnSpec {
	c := ts(name)
	c.Required = true
	return c
}

func text(name string) ColumnSpec {
	return ColumnSpec{Name: name, Kind: table.Text}
}

var schemas = map[RecordType]*Schema{
	Patient: {
		RecordType: Patient,
		Columns: []ColumnSpec{
			id("row_id"),
			requiredID("subject_id"),
			text("gender"),
			requiredTS("dob"),
			ts("dod"),
			ts("dod_hosp"),
			ts("dod_ssn"),
			flag("expire_flag"),
		},
	},
	Admission: {
		RecordType: Admission,
		Columns: []ColumnSpec{
			id("row_id"),
			requiredID("subject_id"),
			requiredID("hadm_id"),
			requiredTS("admittime"),
			requiredTS("dischtime"),
			ts("deathtime"),
			text("admission_type"),
			text("admission_location"),
			text("discharge_location"),
			text("insurance"),
			text("language"),
			text("religion"),
			text("marital_status"),
			text("ethnicity"),
			ts("edregtime"),
			ts("edouttime"),
			text("diagnosis"),
			flag("hospital_expire_flag"),
			flag("has_chartevents_data"),
		},
		Categorical: []string{
			"admission_type", "admission_location", "discharge_location",
			"insurance", "language", "religion", "marital_status",
			"ethnicity", "diagnosis",
		},
	},
	ICUStay: {
		RecordType: ICUStay,
		Columns: []ColumnSpec{
			id("row_id"),
			requiredID("subject_id"),
			requiredID("hadm_id"),
			requiredID("icustay_id"),
			text("dbsource"),
			text("first_careunit"),
			text("last_careunit"),
			nullableID("first_wardid"),
			nullableID("last_wardid"),
			requiredTS("intime"),
			requiredTS("outtime"),
			{Name: "los", Kind: table.Decimal, Width: table.Float64, Required: true},
		},
	},
	LabEvent: {
		RecordType: LabEvent,
		Columns: []ColumnSpec{
			id("row_id"),
			requiredID("subject_id"),
			nullableID("hadm_id"),
			requiredID("itemid"),
			ts("charttime"),
			text("value"),
			{Name: "valuenum", Kind: table.Decimal, Width: table.Float64, Nullable: true},
			text("valueuom"),
			text("flag"),
		},
	},
	LabItem: {
		RecordType: LabItem,
		Columns: []ColumnSpec{
			id("row_id"),
			requiredID("itemid"),
			text("label"),
			text("fluid"),
			text("category"),
			text("loinc_code"),
		},
		Lookup: true,
	},
}

// SchemaFor returns the declared schema of rt.
func SchemaFor(rt RecordType) (*Schema, error) {
	s, ok := schemas[rt]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no schema for record type %q", rt)
	}
	return s, nil
}

// Column returns the spec of the named column.
func (s *Schema) Column(name string) (ColumnSpec, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Required returns the names of the required columns in declaration order.
func (s *Schema) Required() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Required {
			out = append(out, c.Name)
		}
	}
	return out
}

// OfKind returns the names of the columns of kind k in declaration order.
func (s *Schema) OfKind(k table.Kind) []string {
	var out []string
	for _, c := range s.Columns {
		if c.Kind == k {
			out = append(out, c.Name)
		}
	}
	return out
}

// Hints returns the declared kind of every column, keyed by name.
func (s *Schema) Hints() map[string]table.Kind {
	h := make(map[string]table.Kind, len(s.Columns))
	for _, c := range s.Columns {
		h[c.Name] = c.Kind
	}
	return h
}

// DeclaredNames returns the sorted column names of s.
func (s *Schema) DeclaredNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	sort.Strings(out)
	return out
}

// Widths returns the declared width of every numeric column.
func (s *Schema) Widths() map[string]table.Width {
	w := make(map[string]table.Width)
	for _, c := range s.Columns {
		if c.Kind == table.Identifier || c.Kind == table.Decimal {
			w[c.Name] = c.Width
		}
	}
	return w
}
