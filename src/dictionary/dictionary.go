// Package dictionary holds the canonical field knowledge base: descriptions,
// synonyms, per-system header variants and the column signatures used to
// recognise which accounting system produced an export.
package dictionary

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var defaultDefinitions []byte

// SystemVariants lists the header names one source system uses for a field.
type SystemVariants struct {
	System string   `yaml:"system" json:"system"`
	Names  []string `yaml:"names" json:"names"`
}

type FieldDefinition struct {
	Field       models.CanonicalField `yaml:"field" json:"field"`
	Label       string                `yaml:"label" json:"label"`
	Description string                `yaml:"description" json:"description"`
	Examples    []string              `yaml:"examples" json:"examples"`
	Synonyms    []string              `yaml:"synonyms" json:"synonyms"`
	Variants    []SystemVariants      `yaml:"variants" json:"variants"`
	// Fallback keywords are only consulted for unresolved required fields.
	Fallback []string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// SystemSignature is the set of columns characteristic of one source system.
type SystemSignature struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
}

type document struct {
	Fields     []FieldDefinition `yaml:"fields"`
	Signatures []SystemSignature `yaml:"signatures"`
}

// Dictionary is immutable after construction and safe for concurrent use.
type Dictionary struct {
	fields     []FieldDefinition
	byField    map[models.CanonicalField]int
	signatures []SystemSignature
}

// Default returns the built-in dictionary.
func Default() (*Dictionary, error) {
	var doc document
	if err := yaml.Unmarshal(defaultDefinitions, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse built-in field dictionary: %w", err)
	}
	return build(doc)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Dictionary {
	d, err := Default()
	if err != nil {
		panic(err)
	}
	return d
}

// Load returns the built-in dictionary extended with the definitions in path.
// Entries for known fields append synonyms, fallback keywords and variants;
// signatures are appended after the built-in ones, or replace a built-in
// signature with the same name.
func Load(path string) (*Dictionary, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field dictionary %s: %w", path, err)
	}
	var override document
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("failed to parse field dictionary %s: %w", path, err)
	}
	return base.merge(override)
}

func build(doc document) (*Dictionary, error) {
	d := &Dictionary{byField: make(map[models.CanonicalField]int)}
	for _, def := range doc.Fields {
		if !def.Field.Valid() {
			return nil, fmt.Errorf("unknown canonical field %q in dictionary", def.Field)
		}
		if _, dup := d.byField[def.Field]; dup {
			return nil, fmt.Errorf("canonical field %q defined twice", def.Field)
		}
		d.byField[def.Field] = len(d.fields)
		d.fields = append(d.fields, def)
	}
	for _, f := range models.AllFields {
		if _, ok := d.byField[f]; !ok {
			return nil, fmt.Errorf("canonical field %q has no definition", f)
		}
	}
	for _, sig := range doc.Signatures {
		if sig.Name == "" || len(sig.Columns) == 0 {
			return nil, fmt.Errorf("system signature %q must have a name and at least one column", sig.Name)
		}
	}
	d.signatures = doc.Signatures
	return d, nil
}

func (d *Dictionary) merge(override document) (*Dictionary, error) {
	doc := document{
		Fields:     make([]FieldDefinition, len(d.fields)),
		Signatures: append([]SystemSignature(nil), d.signatures...),
	}
	for i, def := range d.fields {
		doc.Fields[i] = def.clone()
	}

	for _, extra := range override.Fields {
		idx, ok := d.byField[extra.Field]
		if !ok {
			return nil, fmt.Errorf("unknown canonical field %q in dictionary override", extra.Field)
		}
		target := &doc.Fields[idx]
		if extra.Label != "" {
			target.Label = extra.Label
		}
		if extra.Description != "" {
			target.Description = extra.Description
		}
		target.Examples = appendUnique(target.Examples, extra.Examples...)
		target.Synonyms = appendUnique(target.Synonyms, extra.Synonyms...)
		target.Fallback = appendUnique(target.Fallback, extra.Fallback...)
		for _, v := range extra.Variants {
			target.Variants = mergeVariants(target.Variants, v)
		}
	}

	for _, sig := range override.Signatures {
		replaced := false
		for i := range doc.Signatures {
			if doc.Signatures[i].Name == sig.Name {
				doc.Signatures[i] = sig
				replaced = true
				break
			}
		}
		if !replaced {
			doc.Signatures = append(doc.Signatures, sig)
		}
	}
	return build(doc)
}

// Fields returns the definitions in resolution order.
func (d *Dictionary) Fields() []FieldDefinition {
	out := make([]FieldDefinition, len(d.fields))
	for i, def := range d.fields {
		out[i] = def.clone()
	}
	return out
}

func (d *Dictionary) Definition(f models.CanonicalField) (FieldDefinition, bool) {
	idx, ok := d.byField[f]
	if !ok {
		return FieldDefinition{}, false
	}
	return d.fields[idx].clone(), true
}

// Keywords returns synonyms followed by every system variant of f.
func (d *Dictionary) Keywords(f models.CanonicalField) []string {
	def, ok := d.Definition(f)
	if !ok {
		return nil
	}
	out := append([]string(nil), def.Synonyms...)
	for _, v := range def.Variants {
		out = append(out, v.Names...)
	}
	return out
}

// SynonymExamples returns up to n recognised header names for f.
func (d *Dictionary) SynonymExamples(f models.CanonicalField, n int) []string {
	kw := appendUnique(nil, d.Keywords(f)...)
	if n > 0 && len(kw) > n {
		kw = kw[:n]
	}
	return kw
}

func (d *Dictionary) Signatures() []SystemSignature {
	out := make([]SystemSignature, len(d.signatures))
	for i, s := range d.signatures {
		out[i] = SystemSignature{Name: s.Name, Columns: append([]string(nil), s.Columns...)}
	}
	return out
}

func (def FieldDefinition) clone() FieldDefinition {
	c := def
	c.Examples = append([]string(nil), def.Examples...)
	c.Synonyms = append([]string(nil), def.Synonyms...)
	c.Fallback = append([]string(nil), def.Fallback...)
	c.Variants = make([]SystemVariants, len(def.Variants))
	for i, v := range def.Variants {
		c.Variants[i] = SystemVariants{System: v.System, Names: append([]string(nil), v.Names...)}
	}
	return c
}

func mergeVariants(existing []SystemVariants, v SystemVariants) []SystemVariants {
	for i := range existing {
		if existing[i].System == v.System {
			existing[i].Names = appendUnique(existing[i].Names, v.Names...)
			return existing
		}
	}
	return append(existing, SystemVariants{System: v.System, Names: append([]string(nil), v.Names...)})
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range values {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		dst = append(dst, s)
	}
	return dst
}
