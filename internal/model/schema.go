package model

import "strings"

// SchemaID identifies a schema definition: (document, schema name)
type SchemaID struct {
	Document string `json:"document" cbor:"document"`
	Name     string `json:"name" cbor:"name"`
}

// String renders the id as "document#Name"
func (id SchemaID) String() string {
	if id.Document == "" && id.Name == "" {
		return ""
	}
	return id.Document + "#" + id.Name
}

// IsZero reports whether the id is unset
func (id SchemaID) IsZero() bool {
	return id.Document == "" && id.Name == ""
}

// Less orders ids by document, then name
func (id SchemaID) Less(other SchemaID) bool {
	if id.Document != other.Document {
		return id.Document < other.Document
	}
	return id.Name < other.Name
}

// DomainFlags is the closed set of domain classifications applied at parse time
type DomainFlags uint8

const (
	FlagInsurance   DomainFlags = 1 << iota // document name starts with the insurance prefix
	FlagSpecialFile                         // document is one of the designated special files
)

// Has reports whether all bits of f are set
func (d DomainFlags) Has(f DomainFlags) bool { return d&f == f }

// IsDomain reports whether the definition needs insurance-domain handling
func (d DomainFlags) IsDomain() bool { return d&(FlagInsurance|FlagSpecialFile) != 0 }

// String lists the set flags
func (d DomainFlags) String() string {
	var parts []string
	if d.Has(FlagInsurance) {
		parts = append(parts, "insurance")
	}
	if d.Has(FlagSpecialFile) {
		parts = append(parts, "special-file")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Field is one declared property of a schema definition
type Field struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Format    string   `json:"format,omitempty"`
	Required  bool     `json:"required"`
	MaxLength int      `json:"max_length"`
	Enum      []string `json:"enum,omitempty"`
	Ref       string   `json:"ref,omitempty"`       // raw $ref of the field or of its array items
	Synthetic bool     `json:"synthetic,omitempty"` // injected by the domain checker
}

// RefKind says where in a definition a reference expression appeared
type RefKind string

const (
	RefProperty    RefKind = "property"    // properties.<field>.$ref
	RefItem        RefKind = "item"        // properties.<field>.items.$ref
	RefComposition RefKind = "composition" // allOf/oneOf/anyOf member $ref
)

// RefState is the resolution state of a reference
type RefState string

const (
	RefUnresolved RefState = "unresolved"
	RefResolved   RefState = "resolved"
	RefDangling   RefState = "dangling"
)

// Reference is a directed edge from a schema field to another schema definition
type Reference struct {
	From     SchemaID `json:"from"`
	Field    string   `json:"field,omitempty"` // empty for composition references
	Kind     RefKind  `json:"kind"`
	Raw      string   `json:"raw"`      // pointer as written, e.g. "person.yaml#/components/schemas/PersonBase"
	Document string   `json:"document"` // document named by the pointer (empty for local pointers)
	Name     string   `json:"name"`     // schema name named by the pointer
	State    RefState `json:"state"`
	Target   SchemaID `json:"target,omitzero"`
}

// SchemaDefinition is one named schema block of a document
type SchemaDefinition struct {
	ID         SchemaID    `json:"id"`
	API        string      `json:"api"`
	Title      string      `json:"title,omitempty"` // info.title of the owning document
	Fields     []Field     `json:"fields"`
	References []Reference `json:"references,omitempty"`
	Flags      DomainFlags `json:"flags"`
}

// Field returns the field with the given name
func (d *SchemaDefinition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Clone returns a deep copy of the definition
func (d SchemaDefinition) Clone() SchemaDefinition {
	out := d
	out.Fields = make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		f.Enum = append([]string(nil), f.Enum...)
		out.Fields[i] = f
	}
	out.References = append([]Reference(nil), d.References...)
	return out
}
