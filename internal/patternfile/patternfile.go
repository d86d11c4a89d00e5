// Package patternfile reads and writes patterns as YAML so they can be
// reviewed, edited by hand and used as seeds.
package patternfile

import (
	"bytes"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/product-patterns/internal/model"
)

// DefaultConfidence is applied to rules written without a confidence.
const DefaultConfidence = 0.8

// File is the on-disk layout. Chains are a list so fields keep their
// canonical order when written.
type File struct {
	Pattern PatternDoc `yaml:"pattern"`
}

// PatternDoc is one pattern version.
type PatternDoc struct {
	Domain        string       `yaml:"domain"`
	Version       int          `yaml:"version,omitempty"`
	ParentVersion int          `yaml:"parent_version,omitempty"`
	Defaults      Defaults     `yaml:"defaults,omitempty"`
	Fields        []FieldChain `yaml:"fields"`
}

// Defaults holds values applied to rules that omit them.
type Defaults struct {
	Confidence float64 `yaml:"confidence,omitempty"`
}

// FieldChain is the ordered fallback chain for one field.
type FieldChain struct {
	Field model.Field `yaml:"field"`
	Rules []Rule      `yaml:"rules"`
}

// Rule is one strategy in a chain.
type Rule struct {
	Kind       model.StrategyKind `yaml:"kind"`
	Locator    string             `yaml:"locator"`
	Confidence float64            `yaml:"confidence,omitempty"`
}

// FromPattern converts p into its file layout.
func FromPattern(p *model.Pattern) File {
	doc := PatternDoc{
		Domain:        p.Domain,
		Version:       p.Version,
		ParentVersion: p.ParentVersion,
	}
	for _, f := range model.AllFields() {
		chain := p.Rules[f]
		if len(chain) == 0 {
			continue
		}
		fc := FieldChain{Field: f}
		for _, r := range chain {
			fc.Rules = append(fc.Rules, Rule{Kind: r.Kind, Locator: r.Locator, Confidence: r.Confidence})
		}
		doc.Fields = append(doc.Fields, fc)
	}
	return File{Pattern: doc}
}

// ToPattern converts the file back into a validated pattern.
func (f File) ToPattern() (*model.Pattern, error) {
	doc := f.Pattern
	if doc.Domain == "" {
		return nil, eris.New("patternfile: missing domain")
	}
	conf := doc.Defaults.Confidence
	if conf == 0 {
		conf = DefaultConfidence
	}

	p := model.NewPattern(doc.Domain)
	p.Version = doc.Version
	p.ParentVersion = doc.ParentVersion
	for _, fc := range doc.Fields {
		if !fc.Field.Valid() {
			return nil, eris.Errorf("patternfile: unknown field %q", fc.Field)
		}
		if _, dup := p.Rules[fc.Field]; dup {
			return nil, eris.Errorf("patternfile: field %s listed twice", fc.Field)
		}
		chain := make([]model.FieldRule, 0, len(fc.Rules))
		for _, r := range fc.Rules {
			rule := model.FieldRule{
				Field:      fc.Field,
				Kind:       r.Kind,
				Locator:    r.Locator,
				Confidence: r.Confidence,
			}
			if rule.Confidence == 0 {
				rule.Confidence = conf
			}
			chain = append(chain, rule)
		}
		if len(chain) > 0 {
			p.Rules[fc.Field] = chain
		}
	}
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(err, "patternfile: invalid pattern")
	}
	return p, nil
}

// Encode writes p as YAML.
func Encode(w io.Writer, p *model.Pattern) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(FromPattern(p)); err != nil {
		return eris.Wrap(err, "patternfile: encode")
	}
	if err := enc.Close(); err != nil {
		return eris.Wrap(err, "patternfile: flush")
	}
	return nil
}

// Decode reads one pattern. Unknown keys are rejected so typos in
// hand-edited files do not silently drop rules.
func Decode(r io.Reader) (*model.Pattern, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if eris.Is(err, io.EOF) {
			return nil, eris.New("patternfile: empty document")
		}
		return nil, eris.Wrap(err, "patternfile: decode")
	}
	return f.ToPattern()
}

// Marshal returns p as YAML bytes.
func Marshal(p *model.Pattern) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses YAML bytes into a pattern.
func Unmarshal(data []byte) (*model.Pattern, error) {
	return Decode(bytes.NewReader(data))
}

// ReadFile loads a pattern from path.
func ReadFile(path string) (*model.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "patternfile: read %s", path)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, eris.Wrapf(err, "patternfile: %s", path)
	}
	return p, nil
}

// WriteFile stores p at path.
func WriteFile(path string, p *model.Pattern) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "patternfile: write %s", path)
	}
	return nil
}
