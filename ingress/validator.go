package ingress

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/queue"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://worldsync.invalid/schemas/"

// Validator checks inbound envelopes and their payloads against the embedded
// JSON schemas before they are decoded into queue items.
type Validator struct {
	envelope *jsonschema.Schema
	payloads map[queue.Kind]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	envelope, err := compile("envelope.schema.json")
	if err != nil {
		return nil, err
	}
	chat, err := compile("chat.schema.json")
	if err != nil {
		return nil, err
	}
	snap, err := compile("snapshot.schema.json")
	if err != nil {
		return nil, err
	}
	return &Validator{
		envelope: envelope,
		payloads: map[queue.Kind]*jsonschema.Schema{
			queue.KindChat:     chat,
			queue.KindSnapshot: snap,
		},
	}, nil
}

func compile(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	s, err := jsonschema.CompileString(schemaBase+name, string(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}

// Decode validates an envelope and returns the item it carries. Every
// failure is a validation error wrapping worldsync.ErrMalformedItem.
func (v *Validator) Decode(data []byte) (queue.Item, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, malformed("not valid JSON: " + err.Error())
	}
	if err := v.envelope.Validate(doc); err != nil {
		return nil, malformed(err.Error())
	}

	obj := doc.(map[string]any)
	kind := queue.Kind(obj["kind"].(string))
	if err := v.payloads[kind].Validate(obj["payload"]); err != nil {
		return nil, malformed(err.Error())
	}

	item, err := queue.Decode(data)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func malformed(msg string) error {
	return worldsync.NewValidationError("Validator.Decode",
		fmt.Errorf("%w: %s", worldsync.ErrMalformedItem, msg))
}
