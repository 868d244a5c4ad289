// Package schemas embeds the JSON Schemas of the wire protocol.
package schemas

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.schema.json
var files embed.FS

const baseURL = "mem://schemas/"

// Files maps each message type to its schema file.
var Files = map[string]string{
	"HELLO":   "hello.schema.json",
	"WELCOME": "welcome.schema.json",
	"CMD":     "cmd.schema.json",
	"ACK":     "ack.schema.json",
	"TICK":    "tick.schema.json",
	"ERROR":   "error.schema.json",
}

// Compile compiles one embedded schema by file name.
func Compile(name string) (*jsonschema.Schema, error) {
	b, err := files.ReadFile(name)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(baseURL+name, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(baseURL + name)
}

// Set holds the compiled schema of every message type.
type Set struct {
	byType map[string]*jsonschema.Schema
}

func Load() (*Set, error) {
	s := &Set{byType: make(map[string]*jsonschema.Schema, len(Files))}
	for typ, name := range Files {
		sch, err := Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		s.byType[typ] = sch
	}
	return s, nil
}

// Validate checks a raw message against the schema of msgType.
func (s *Set) Validate(msgType string, raw []byte) error {
	sch := s.byType[msgType]
	if sch == nil {
		return fmt.Errorf("no schema for message type %q", msgType)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}
