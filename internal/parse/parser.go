package parse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/worker"
)

// Field sizing defaults for fields without an explicit maxLength
const (
	defaultStringLength = 100
	numericLength       = 10
	otherLength         = 1
)

var (
	refPattern     = regexp.MustCompile(`^([^#]*)#/(components/schemas|definitions)/([^/]+)$`)
	yamlLineRegexp = regexp.MustCompile(`line (\d+)`)
)

// Options configures a Parser
type Options struct {
	InsurancePrefix string
	SpecialFiles    []string
	Workers         int
	Logger          *slog.Logger
}

// OptionsFromConfig maps the domain and concurrency config sections
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		InsurancePrefix: cfg.Domain.InsurancePrefix,
		SpecialFiles:    cfg.Domain.SpecialFiles,
		Workers:         cfg.Concurrency.ParseWorkers,
	}
}

// Parser turns specification documents into schema definitions
type Parser struct {
	classifier *Classifier
	workers    int
	logger     *slog.Logger
}

// NewParser creates a parser
func NewParser(opts Options) *Parser {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Parser{
		classifier: NewClassifier(opts.InsurancePrefix, opts.SpecialFiles),
		workers:    workers,
		logger:     logger,
	}
}

// Classify exposes the parser's classification of a document name
func (p *Parser) Classify(name string) model.DomainFlags {
	return p.classifier.Classify(name)
}

// Result is the parse outcome of one document
type Result struct {
	Document    string
	API         string
	Definitions []model.SchemaDefinition
	Err         *model.ParseError
	Parsed      bool // false when the document was skipped by cancellation
}

// ParseAll parses docs on the worker pool. Results keep the order of docs.
// A cancelled ctx stops the batch after the document in progress; the
// returned error is then ctx.Err() and unparsed documents have Parsed false.
func (p *Parser) ParseAll(ctx context.Context, docs []model.SpecDocument) ([]Result, error) {
	results := worker.Map(ctx, p.workers, docs, func(ctx context.Context, _ int, doc model.SpecDocument) Result {
		if ctx.Err() != nil {
			return Result{Document: doc.Name, API: doc.API}
		}
		defs, err := p.parse(doc)
		res := Result{Document: doc.Name, API: doc.API, Definitions: defs, Parsed: true}
		if err != nil {
			res.Err = err
			p.logger.Warn("parse failed", "document", doc.Name, "error", err)
		} else {
			p.logger.Debug("parsed document", "document", doc.Name, "schemas", len(defs))
		}
		return res
	})

	for i := range results {
		if !results[i].Parsed {
			results[i].Document = docs[i].Name
			results[i].API = docs[i].API
		}
	}
	return results, ctx.Err()
}

// Parse extracts every schema definition of doc, ordered by name. The
// error is always a *model.ParseError.
func (p *Parser) Parse(doc model.SpecDocument) ([]model.SchemaDefinition, error) {
	defs, err := p.parse(doc)
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (p *Parser) parse(doc model.SpecDocument) ([]model.SchemaDefinition, *model.ParseError) {
	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(doc.Content)).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &model.ParseError{Document: doc.Name, Detail: "empty document"}
		}
		return nil, syntaxError(doc.Name, err)
	}
	if len(root.Content) == 0 {
		return nil, &model.ParseError{Document: doc.Name, Detail: "empty document"}
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, nodeError(doc.Name, top, "document root is not a mapping")
	}

	title := ""
	if info := mapGet(top, "info"); info != nil {
		if t := mapGet(info, "title"); t != nil && t.Kind == yaml.ScalarNode {
			title = t.Value
		}
	}

	blocks := make(map[string]*yaml.Node)
	var names []string
	collect := func(container *yaml.Node) *model.ParseError {
		if container == nil {
			return nil
		}
		if container.Kind != yaml.MappingNode {
			return nodeError(doc.Name, container, "schema block is not a mapping")
		}
		for i := 0; i+1 < len(container.Content); i += 2 {
			key, val := container.Content[i], container.Content[i+1]
			if _, dup := blocks[key.Value]; dup {
				return nodeError(doc.Name, key, fmt.Sprintf("schema %q declared twice", key.Value))
			}
			blocks[key.Value] = val
			names = append(names, key.Value)
		}
		return nil
	}
	if components := mapGet(top, "components"); components != nil {
		if err := collect(mapGet(components, "schemas")); err != nil {
			return nil, err
		}
	}
	if err := collect(mapGet(top, "definitions")); err != nil {
		return nil, err
	}
	sort.Strings(names)

	flags := p.classifier.Classify(doc.Name)
	api := doc.API
	if api == "" {
		api = model.DefaultAPIID(doc.Name)
	}

	defs := make([]model.SchemaDefinition, 0, len(names))
	for _, name := range names {
		def := model.SchemaDefinition{
			ID:    model.SchemaID{Document: doc.Name, Name: name},
			API:   api,
			Title: title,
			Flags: flags,
		}
		b := &builder{doc: doc.Name, def: &def, seen: make(map[string]bool)}
		if err := b.schema(blocks[name]); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// builder accumulates the fields and references of one definition
type builder struct {
	doc  string
	def  *model.SchemaDefinition
	seen map[string]bool
}

// schema walks a top-level schema block
func (b *builder) schema(n *yaml.Node) *model.ParseError {
	if n.Kind != yaml.MappingNode {
		return nodeError(b.doc, n, fmt.Sprintf("schema %s is not a mapping", b.def.ID.Name))
	}
	if ref := mapGet(n, "$ref"); ref != nil {
		if err := b.reference(ref, "", model.RefComposition); err != nil {
			return err
		}
	}
	if err := b.object("", n); err != nil {
		return err
	}
	for _, keyword := range []string{"allOf", "oneOf", "anyOf"} {
		members := mapGet(n, keyword)
		if members == nil {
			continue
		}
		if members.Kind != yaml.SequenceNode {
			return nodeError(b.doc, members, keyword+" is not a list")
		}
		for _, m := range members.Content {
			if m.Kind != yaml.MappingNode {
				return nodeError(b.doc, m, keyword+" member is not a mapping")
			}
			if ref := mapGet(m, "$ref"); ref != nil {
				if err := b.reference(ref, "", model.RefComposition); err != nil {
					return err
				}
				continue
			}
			if keyword == "allOf" {
				if err := b.object("", m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// object adds the properties of an object node under prefix
func (b *builder) object(prefix string, n *yaml.Node) *model.ParseError {
	props := mapGet(n, "properties")
	if props == nil {
		return nil
	}
	if props.Kind != yaml.MappingNode {
		return nodeError(b.doc, props, "properties is not a mapping")
	}

	required := make(map[string]bool)
	if req := mapGet(n, "required"); req != nil {
		if req.Kind != yaml.SequenceNode {
			return nodeError(b.doc, req, "required is not a list")
		}
		for _, r := range req.Content {
			required[r.Value] = true
		}
	}

	for i := 0; i+1 < len(props.Content); i += 2 {
		name := props.Content[i].Value
		if prefix != "" {
			name = prefix + "." + name
		}
		if err := b.property(name, props.Content[i+1], required[props.Content[i].Value]); err != nil {
			return err
		}
	}
	return nil
}

// property adds one field, flattening nested inline objects
func (b *builder) property(name string, n *yaml.Node, required bool) *model.ParseError {
	if n.Kind != yaml.MappingNode {
		return nodeError(b.doc, n, fmt.Sprintf("field %s is not a mapping", name))
	}

	typ, err := b.fieldType(n)
	if err != nil {
		return err
	}
	ref := mapGet(n, "$ref")
	compositions := compositionMembers(n)
	enumNode := mapGet(n, "enum")
	if typ == "" && ref == nil && enumNode == nil && len(compositions) == 0 {
		return nodeError(b.doc, n, fmt.Sprintf("field %s declares neither type, $ref, enum nor composition", name))
	}

	if typ == "object" && ref == nil && mapGet(n, "properties") != nil {
		return b.object(name, n)
	}

	field := model.Field{Name: name, Type: typ, Required: required}
	if f := mapGet(n, "format"); f != nil {
		field.Format = f.Value
	}
	if enumNode != nil {
		if enumNode.Kind != yaml.SequenceNode {
			return nodeError(b.doc, enumNode, fmt.Sprintf("enum of %s is not a list", name))
		}
		for _, v := range enumNode.Content {
			field.Enum = append(field.Enum, v.Value)
		}
	}

	switch {
	case ref != nil:
		field.Type = "object"
		field.Ref = ref.Value
		if err := b.reference(ref, name, model.RefProperty); err != nil {
			return err
		}
	case typ == "array":
		if items := mapGet(n, "items"); items != nil && items.Kind == yaml.MappingNode {
			if itemRef := mapGet(items, "$ref"); itemRef != nil {
				field.Ref = itemRef.Value
				if err := b.reference(itemRef, name, model.RefItem); err != nil {
					return err
				}
			}
		}
	case len(compositions) > 0:
		if field.Type == "" {
			field.Type = "object"
		}
		for _, m := range compositions {
			if r := mapGet(m, "$ref"); r != nil {
				if field.Ref == "" {
					field.Ref = r.Value
				}
				if err := b.reference(r, name, model.RefProperty); err != nil {
					return err
				}
			}
		}
	case field.Type == "":
		field.Type = "string"
	}

	maxLength, err := b.maxLength(name, n, field)
	if err != nil {
		return err
	}
	field.MaxLength = maxLength

	if b.seen[name] {
		return nil
	}
	b.seen[name] = true
	b.def.Fields = append(b.def.Fields, field)
	return nil
}

// fieldType reads "type", accepting the list form by picking the first
// non-null entry
func (b *builder) fieldType(n *yaml.Node) (string, *model.ParseError) {
	t := mapGet(n, "type")
	if t == nil {
		return "", nil
	}
	switch t.Kind {
	case yaml.ScalarNode:
		return t.Value, nil
	case yaml.SequenceNode:
		for _, v := range t.Content {
			if v.Value != "null" {
				return v.Value, nil
			}
		}
		return "null", nil
	}
	return "", nodeError(b.doc, t, "type is neither a string nor a list")
}

// maxLength applies the sizing rules: explicit maxLength, else the longest
// enum value for strings, else per-type defaults
func (b *builder) maxLength(name string, n *yaml.Node, f model.Field) (int, *model.ParseError) {
	if f.Type != "string" {
		if f.Type == "number" || f.Type == "integer" {
			return numericLength, nil
		}
		return otherLength, nil
	}
	if ml := mapGet(n, "maxLength"); ml != nil {
		v, err := strconv.Atoi(ml.Value)
		if err != nil || v < 0 {
			return 0, nodeError(b.doc, ml, fmt.Sprintf("maxLength of %s is not a non-negative integer", name))
		}
		return v, nil
	}
	if len(f.Enum) > 0 {
		longest := 0
		for _, e := range f.Enum {
			if l := len([]rune(e)); l > longest {
				longest = l
			}
		}
		return longest, nil
	}
	return defaultStringLength, nil
}

// reference validates a $ref node and records the edge
func (b *builder) reference(n *yaml.Node, field string, kind model.RefKind) *model.ParseError {
	raw := n.Value
	document, name, ok := SplitPointer(raw)
	if !ok {
		return nodeError(b.doc, n, fmt.Sprintf("malformed reference %q", raw))
	}
	b.def.References = append(b.def.References, model.Reference{
		From:     b.def.ID,
		Field:    field,
		Kind:     kind,
		Raw:      raw,
		Document: document,
		Name:     name,
		State:    model.RefUnresolved,
	})
	return nil
}

// SplitPointer splits "[doc]#/components/schemas/Name" (or the
// "#/definitions/" form) into the referenced document base name, empty for
// a local pointer, and the schema name
func SplitPointer(raw string) (document, name string, ok bool) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", false
	}
	name = strings.ReplaceAll(strings.ReplaceAll(m[3], "~1", "/"), "~0", "~")
	if name == "" {
		return "", "", false
	}
	if m[1] != "" {
		document = path.Base(m[1])
	}
	return document, name, true
}

func compositionMembers(n *yaml.Node) []*yaml.Node {
	var out []*yaml.Node
	for _, keyword := range []string{"allOf", "oneOf", "anyOf"} {
		if members := mapGet(n, keyword); members != nil && members.Kind == yaml.SequenceNode {
			out = append(out, members.Content...)
		}
	}
	return out
}

// mapGet returns the value node of key in a mapping node
func mapGet(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func nodeError(doc string, n *yaml.Node, detail string) *model.ParseError {
	return &model.ParseError{
		Document: doc,
		Location: fmt.Sprintf("%d:%d", n.Line, n.Column),
		Detail:   detail,
	}
}

func syntaxError(doc string, err error) *model.ParseError {
	pe := &model.ParseError{Document: doc, Detail: err.Error()}
	if m := yamlLineRegexp.FindStringSubmatch(err.Error()); m != nil {
		pe.Location = m[1] + ":0"
	}
	return pe
}
