package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// A field in a descriptor file is either a bare type name:
//
//	age: integer
//
// or a mapping for parameterized and relation types:
//
//	tags:
//	  type: array
//	  elem: string
//	posts:
//	  type: assoc
//	  cardinality: many
//	  on_replace: delete
//	  source: posts
//	  owner_key: id
//	  related_key: author_id
//	  fields:
//	    id: integer
//	    title: string
type marshaledField struct {
	Type        string                    `yaml:"type" json:"type"`
	Elem        *marshaledField           `yaml:"elem" json:"elem"`
	Cardinality string                    `yaml:"cardinality" json:"cardinality"`
	OnReplace   string                    `yaml:"on_replace" json:"on_replace"`
	Key         string                    `yaml:"key" json:"key"`
	OwnerKey    string                    `yaml:"owner_key" json:"owner_key"`
	RelatedKey  string                    `yaml:"related_key" json:"related_key"`
	Source      string                    `yaml:"source" json:"source"`
	Fields      map[string]marshaledField `yaml:"fields" json:"fields"`
	Defaults    map[string]any            `yaml:"defaults" json:"defaults"`
}

func (mf *marshaledField) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&mf.Type)
	}

	// alias type avoids infinite recursion into this method
	type plain marshaledField
	return value.Decode((*plain)(mf))
}

func (mf *marshaledField) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &mf.Type)
	}

	type plain marshaledField
	return json.Unmarshal(data, (*plain)(mf))
}

type marshaledTypes struct {
	Fields map[string]marshaledField `yaml:"fields" json:"fields"`
}

// LoadTypes loads a field-type map from a JSON or YAML descriptor file. The
// format of the file is determined by examining its extension; files ending in
// .json are parsed as JSON files, and files ending in .yaml or .yml are parsed
// as YAML files. Other extensions are not supported. The extension is not
// case-sensitive.
func LoadTypes(file string) (map[string]*Type, error) {
	var mt marshaledTypes

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", file, err)
	}

	switch filepath.Ext(strings.ToLower(file)) {
	case ".json":
		err = json.Unmarshal(data, &mt)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &mt)
	default:
		return nil, fmt.Errorf("%q: incompatible format; must be .json, .yml, or .yaml file", file)
	}
	if err != nil {
		return nil, fmt.Errorf("%q: %w", file, err)
	}

	return unmarshalFields(mt.Fields)
}

// ParseTypes parses a field-type map from YAML descriptor bytes.
func ParseTypes(data []byte) (map[string]*Type, error) {
	var mt marshaledTypes
	if err := yaml.Unmarshal(data, &mt); err != nil {
		return nil, err
	}
	return unmarshalFields(mt.Fields)
}

func unmarshalFields(mfs map[string]marshaledField) (map[string]*Type, error) {
	types := make(map[string]*Type, len(mfs))
	for name, mf := range mfs {
		t, err := unmarshalField(mf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		types[name] = t
	}
	return types, nil
}

func unmarshalField(mf marshaledField) (*Type, error) {
	kind, err := ParseKind(mf.Type)
	if err != nil {
		return nil, err
	}

	switch kind {
	case Array, Map:
		if mf.Elem == nil {
			return nil, fmt.Errorf("%s type requires an elem", kind)
		}
		elem, err := unmarshalField(*mf.Elem)
		if err != nil {
			return nil, fmt.Errorf("elem: %w", err)
		}
		if kind == Array {
			return ArrayOf(elem), nil
		}
		return MapOf(elem), nil
	case Assoc, Embed:
		return unmarshalRelation(kind, mf)
	case Custom:
		return nil, fmt.Errorf("custom types cannot be declared in a descriptor file")
	default:
		return scalar(kind), nil
	}
}

func unmarshalRelation(kind Kind, mf marshaledField) (*Type, error) {
	card, err := ParseCardinality(mf.Cardinality)
	if err != nil {
		return nil, err
	}
	onRepl, err := ParseOnReplace(mf.OnReplace)
	if err != nil {
		return nil, err
	}
	if len(mf.Fields) == 0 {
		return nil, fmt.Errorf("%s type requires child fields", kind)
	}

	fields, err := unmarshalFields(mf.Fields)
	if err != nil {
		return nil, err
	}

	rel := &Relation{
		Fields:     fields,
		PrimaryKey: mf.Key,
		Defaults:   mf.Defaults,
		OnReplace:  onRepl,
		OwnerKey:   mf.OwnerKey,
		RelatedKey: mf.RelatedKey,
		Source:     mf.Source,
	}

	switch {
	case kind == Assoc && card == One:
		return AssocOne(rel), nil
	case kind == Assoc && card == Many:
		return AssocMany(rel), nil
	case kind == Embed && card == One:
		return EmbedOne(rel), nil
	default:
		return EmbedMany(rel), nil
	}
}
