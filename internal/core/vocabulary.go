package core

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed vocabulary/*.yaml
var embeddedVocabulary embed.FS

// locatorFile holds the keyword lists for the region locator; every other
// YAML file in a vocabulary directory is an entity vocabulary.
const locatorFile = "locator.yaml"

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldDef is one canonical field and the header strings that map to it.
type FieldDef struct {
	Name    string   `yaml:"name" validate:"required"`
	Type    string   `yaml:"type" validate:"required,oneof=string integer boolean date timestamp"`
	Header  string   `yaml:"header" validate:"required"`
	Aliases []string `yaml:"aliases" validate:"dive,required"`
	Stems   []string `yaml:"stems" validate:"dive,required"`

	fieldType FieldType
}

// FieldType returns the resolved declared type.
func (f FieldDef) FieldType() FieldType { return f.fieldType }

// Vocabulary is the header table for one entity kind. Field order is the
// template column order.
type Vocabulary struct {
	Kind          EntityKind `yaml:"kind" validate:"required"`
	SheetKeywords []string   `yaml:"sheet_keywords"`
	Fields        []FieldDef `yaml:"fields" validate:"required,min=1,dive"`

	byName   map[string]int
	exact    map[string]string
	folded   map[string]string
	stripped map[string]string
}

// LocatorKeywords feeds the default header scorer and the summary-row filter.
type LocatorKeywords struct {
	HeaderKeywords     []string `yaml:"header_keywords" validate:"required,min=1"`
	IdentifierKeywords []string `yaml:"identifier_keywords"`
	IDTokens           []string `yaml:"id_tokens"`
	SummaryPhrases     []string `yaml:"summary_phrases"`
}

// ParseVocabulary decodes and indexes one vocabulary document. A header or
// alias may belong to only one field.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if err := validate.Struct(&v); err != nil {
		return nil, fmt.Errorf("vocabulary %q: %w", v.Kind, err)
	}
	if err := v.index(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (v *Vocabulary) index() error {
	v.byName = make(map[string]int, len(v.Fields))
	v.exact = make(map[string]string)
	v.folded = make(map[string]string)
	v.stripped = make(map[string]string)

	for i := range v.Fields {
		f := &v.Fields[i]
		t, err := ParseFieldType(f.Type)
		if err != nil {
			return fmt.Errorf("vocabulary %q field %q: %w", v.Kind, f.Name, err)
		}
		f.fieldType = t
		if _, dup := v.byName[f.Name]; dup {
			return fmt.Errorf("vocabulary %q: field %q listed twice", v.Kind, f.Name)
		}
		v.byName[f.Name] = i

		for _, h := range append([]string{f.Header}, f.Aliases...) {
			if err := addHeader(v.exact, h, f.Name); err != nil {
				return fmt.Errorf("vocabulary %q: %w", v.Kind, err)
			}
			if err := addHeader(v.folded, foldHeader(h), f.Name); err != nil {
				return fmt.Errorf("vocabulary %q: %w", v.Kind, err)
			}
			if err := addHeader(v.stripped, stripHeader(h), f.Name); err != nil {
				return fmt.Errorf("vocabulary %q: %w", v.Kind, err)
			}
		}
	}
	return nil
}

func addHeader(m map[string]string, header, field string) error {
	if existing, ok := m[header]; ok && existing != field {
		return fmt.Errorf("header %q maps to both %q and %q", header, existing, field)
	}
	m[header] = field
	return nil
}

// Field returns the definition of a canonical field.
func (v *Vocabulary) Field(name string) (FieldDef, bool) {
	i, ok := v.byName[name]
	if !ok {
		return FieldDef{}, false
	}
	return v.Fields[i], true
}

// FieldNames returns canonical field names in table order.
func (v *Vocabulary) FieldNames() []string {
	names := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		names[i] = f.Name
	}
	return names
}

// Headers returns the primary header of every field in table order.
func (v *Vocabulary) Headers() []string {
	headers := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		headers[i] = f.Header
	}
	return headers
}

// HeaderFor returns the primary header of a field, or the field name.
func (v *Vocabulary) HeaderFor(field string) string {
	if f, ok := v.Field(field); ok {
		return f.Header
	}
	return field
}

// checkAgainst verifies the vocabulary only names fields of the closed
// binding table and declares the same types.
func (v *Vocabulary) checkAgainst(def EntityDef) error {
	for _, f := range v.Fields {
		t, ok := def.Fields[f.Name]
		if !ok {
			return fmt.Errorf("vocabulary %q: %w: %q", v.Kind, ErrUnknownField, f.Name)
		}
		if t != f.fieldType {
			return fmt.Errorf("vocabulary %q: field %q declared %s, record holds %s", v.Kind, f.Name, f.fieldType, t)
		}
	}
	return nil
}

// Catalog is a loaded set of vocabularies plus locator keywords.
type Catalog struct {
	Vocabularies map[EntityKind]*Vocabulary
	Locator      LocatorKeywords
}

// Vocabulary returns the vocabulary for kind.
func (c *Catalog) Vocabulary(kind EntityKind) (*Vocabulary, error) {
	v, ok := c.Vocabularies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return v, nil
}

// LoadVocabularies reads every *.yaml file at the root of fsys. Each
// registered entity kind must have a vocabulary.
func LoadVocabularies(fsys fs.FS) (*Catalog, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list vocabulary files: %w", err)
	}
	sort.Strings(names)

	cat := &Catalog{Vocabularies: make(map[EntityKind]*Vocabulary)}
	haveLocator := false
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		if path.Base(name) == locatorFile {
			if err := yaml.Unmarshal(data, &cat.Locator); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
			if err := validate.Struct(&cat.Locator); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			haveLocator = true
			continue
		}

		v, err := ParseVocabulary(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		def, ok := Lookup(v.Kind)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %q", name, ErrUnknownKind, v.Kind)
		}
		if err := v.checkAgainst(def); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		cat.Vocabularies[v.Kind] = v
	}

	if !haveLocator {
		return nil, fmt.Errorf("vocabulary directory has no %s", locatorFile)
	}
	for _, def := range All() {
		if _, ok := cat.Vocabularies[def.Kind]; !ok {
			return nil, fmt.Errorf("no vocabulary for entity kind %q", def.Kind)
		}
	}
	return cat, nil
}

// DefaultCatalog loads the vocabularies compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	sub, err := fs.Sub(embeddedVocabulary, "vocabulary")
	if err != nil {
		return nil, err
	}
	return LoadVocabularies(sub)
}

// foldHeader collapses runs of whitespace (including newlines) to one
// space and lowercases the result.
func foldHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// stripHeader removes all whitespace and lowercases the result.
func stripHeader(s string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s))
}
