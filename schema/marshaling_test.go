package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ParseTypes(t *testing.T) {
	assert := assert.New(t)

	doc := []byte(`
fields:
  name: string
  age: integer
  tags:
    type: array
    elem: string
  posts:
    type: assoc
    cardinality: many
    on_replace: delete
    source: posts
    related_key: author_id
    fields:
      id: integer
      title: string
`)

	types, err := ParseTypes(doc)
	if !assert.NoError(err) {
		return
	}

	assert.Equal(String, types["name"].Kind())
	assert.Equal(Integer, types["age"].Kind())

	tags := types["tags"]
	assert.Equal(Array, tags.Kind())
	assert.Equal(String, tags.Elem().Kind())

	posts := types["posts"]
	assert.Equal(Assoc, posts.Kind())
	rel := posts.Rel()
	assert.Equal(Many, rel.Cardinality)
	assert.Equal(Delete, rel.OnReplace)
	assert.Equal("posts", rel.Source)
	assert.Equal("author_id", rel.RelatedKey)
	assert.Equal("id", rel.Key())
	assert.Equal(Integer, rel.Fields["id"].Kind())
	assert.Equal(String, rel.Fields["title"].Kind())
}

func Test_ParseTypes_Errors(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{
			name: "unknown type name",
			doc:  "fields:\n  age: intger\n",
		},
		{
			name: "array without elem",
			doc:  "fields:\n  tags:\n    type: array\n",
		},
		{
			name: "relation without child fields",
			doc:  "fields:\n  posts:\n    type: assoc\n    cardinality: many\n",
		},
		{
			name: "bad on_replace",
			doc:  "fields:\n  posts:\n    type: assoc\n    on_replace: explode\n    fields:\n      id: integer\n",
		},
		{
			name: "custom type in descriptor",
			doc:  "fields:\n  pct: custom\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			_, err := ParseTypes([]byte(tc.doc))

			assert.Error(err)
		})
	}
}

func Test_LoadTypes(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	yamlFile := filepath.Join(dir, "fields.yml")
	err := os.WriteFile(yamlFile, []byte("fields:\n  name: string\n"), 0o644)
	if !assert.NoError(err) {
		return
	}

	jsonFile := filepath.Join(dir, "fields.json")
	err = os.WriteFile(jsonFile, []byte(`{"fields": {"name": "string", "age": {"type": "integer"}}}`), 0o644)
	if !assert.NoError(err) {
		return
	}

	badExt := filepath.Join(dir, "fields.toml")
	err = os.WriteFile(badExt, []byte("x"), 0o644)
	if !assert.NoError(err) {
		return
	}

	types, err := LoadTypes(yamlFile)
	if assert.NoError(err) {
		assert.Equal(String, types["name"].Kind())
	}

	types, err = LoadTypes(jsonFile)
	if assert.NoError(err) {
		assert.Equal(String, types["name"].Kind())
		assert.Equal(Integer, types["age"].Kind())
	}

	_, err = LoadTypes(badExt)
	assert.Error(err)

	_, err = LoadTypes(filepath.Join(dir, "missing.yml"))
	assert.Error(err)
}
