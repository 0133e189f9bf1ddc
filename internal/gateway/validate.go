package gateway

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var proposalSchema = mustCompile("schemas/proposal.schema.json")

func mustCompile(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("gateway: read schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("gateway: add schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("gateway: compile schema %s: %v", name, err))
	}
	return s
}

// validateProposalPayload checks a raw request body against the proposal
// schema before it is decoded into a typed struct. Returns a message
// suitable for a 400 response.
func validateProposalPayload(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := proposalSchema.Validate(doc); err != nil {
		return fmt.Errorf("invalid proposal: %w", err)
	}
	return nil
}
