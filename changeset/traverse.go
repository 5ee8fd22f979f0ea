package changeset

import (
	"fmt"
	"strings"
)

// TraverseFunc maps one recorded error to the string that represents it in a
// traversal result.
type TraverseFunc func(e FieldError) string

// FormatMessage interpolates metadata into an error message: every %{key}
// token is replaced with the metadata value under that key. Tokens without a
// matching key are left alone. This is the default rendering used by
// TraverseErrors.
func FormatMessage(msg string, meta Metadata) string {
	if len(meta) == 0 || !strings.Contains(msg, "%{") {
		return msg
	}
	out := msg
	for k, v := range meta {
		out = strings.ReplaceAll(out, "%{"+k+"}", fmt.Sprintf("%v", v))
	}
	return out
}

// TraverseErrors collects every recorded error, including those of nested
// change-sets produced by relation reconciliation, into a tree keyed by field
// name. A scalar field maps to its messages in the order they were recorded.
// A one-relation change maps to the child's own tree, a many-relation change
// to a list of child trees in collection order; relations whose children have
// no errors are omitted, and a child tree replaces any error recorded on the
// relation field itself.
//
// fn renders each error; passing nil uses FormatMessage over the error's
// message and metadata.
func (cs Changeset) TraverseErrors(fn TraverseFunc) map[string]any {
	if fn == nil {
		fn = func(e FieldError) string {
			return FormatMessage(e.Message, e.Meta)
		}
	}

	out := map[string]any{}
	for _, e := range cs.SortedErrors() {
		msgs, _ := out[e.Field].([]string)
		out[e.Field] = append(msgs, fn(e))
	}

	for field, change := range cs.Changes {
		switch v := change.(type) {
		case *Changeset:
			if v == nil {
				continue
			}
			if child := v.TraverseErrors(fn); len(child) > 0 {
				out[field] = child
			}
		case []Changeset:
			trees := make([]map[string]any, len(v))
			nonEmpty := false
			for i := range v {
				trees[i] = v[i].TraverseErrors(fn)
				if len(trees[i]) > 0 {
					nonEmpty = true
				}
			}
			if nonEmpty {
				out[field] = trees
			}
		}
	}
	return out
}

// FullTraverseFunc is a TraverseFunc that also receives the change-set owning
// the error, so a renderer can consult the data snapshot or the applied types
// while building the message.
type FullTraverseFunc func(cs Changeset, e FieldError) string

// TraverseErrorsFull is TraverseErrors with a renderer that receives the
// owning change-set of every error, including nested ones.
func (cs Changeset) TraverseErrorsFull(fn FullTraverseFunc) map[string]any {
	if fn == nil {
		return cs.TraverseErrors(nil)
	}

	out := map[string]any{}
	for _, e := range cs.SortedErrors() {
		msgs, _ := out[e.Field].([]string)
		out[e.Field] = append(msgs, fn(cs, e))
	}

	for field, change := range cs.Changes {
		switch v := change.(type) {
		case *Changeset:
			if v == nil {
				continue
			}
			if child := v.TraverseErrorsFull(fn); len(child) > 0 {
				out[field] = child
			}
		case []Changeset:
			trees := make([]map[string]any, len(v))
			nonEmpty := false
			for i := range v {
				trees[i] = v[i].TraverseErrorsFull(fn)
				if len(trees[i]) > 0 {
					nonEmpty = true
				}
			}
			if nonEmpty {
				out[field] = trees
			}
		}
	}
	return out
}

// TraverseValidations collects the reflection log of named validators into
// the same tree shape as TraverseErrors: scalar fields map to validator
// names, relation changes map to their children's trees.
func (cs Changeset) TraverseValidations() map[string]any {
	out := map[string]any{}
	for _, v := range cs.Validations {
		names, _ := out[v.Field].([]string)
		out[v.Field] = append(names, v.Name)
	}

	for field, change := range cs.Changes {
		switch v := change.(type) {
		case *Changeset:
			if v == nil {
				continue
			}
			if child := v.TraverseValidations(); len(child) > 0 {
				out[field] = child
			}
		case []Changeset:
			trees := make([]map[string]any, len(v))
			nonEmpty := false
			for i := range v {
				trees[i] = v[i].TraverseValidations()
				if len(trees[i]) > 0 {
					nonEmpty = true
				}
			}
			if nonEmpty {
				out[field] = trees
			}
		}
	}
	return out
}
