// Package schema turns Go request and response types into JSON schemas and
// validates decoded payloads against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
)

// Schema is a named JSON schema with a compiled validator.
type Schema struct {
	name     string
	document json.RawMessage
	compiled *jsonschema.Schema
}

// Reflect generates a schema from the exported fields of v.
func Reflect(name string, v any) (*Schema, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	r := &invopop.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
		Anonymous:      true,
	}
	doc, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	return Compile(name, doc)
}

// MustReflect is Reflect for package-level schema values.
func MustReflect(name string, v any) *Schema {
	s, err := Reflect(name, v)
	if err != nil {
		panic(err)
	}
	return s
}

// Compile builds a schema from a raw JSON document.
func Compile(name string, document []byte) (*Schema, error) {
	url := "mem://schemas/" + name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(document)); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, document: json.RawMessage(document), compiled: compiled}, nil
}

// Name returns the schema name.
func (s *Schema) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// MarshalJSON returns the schema document.
func (s *Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return s.document, nil
}

// Validate checks a payload decoded from JSON. Violations are returned as
// invalid input errors listing each failing location.
func (s *Schema) Validate(payload any) error {
	if s == nil || s.compiled == nil {
		return fmt.Errorf("schema is not configured")
	}
	err := s.compiled.Validate(payload)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("validate %s: %w", s.name, err)
	}
	return apperrors.Wrap(apperrors.KindInvalidInput, fmt.Sprintf("invalid %s: %s", s.name, strings.Join(leafMessages(verr), "; ")), err)
}

// Decode validates payload and copies it into dst.
func (s *Schema) Decode(payload any, dst any) error {
	if err := s.Validate(payload); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", s.name, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidInput, fmt.Sprintf("invalid %s", s.name), err)
	}
	return nil
}

func leafMessages(verr *jsonschema.ValidationError) []string {
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.Strings(out)
	return out
}
