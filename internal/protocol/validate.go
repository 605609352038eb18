package protocol

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks inbound request bodies against the JSON Schemas shipped
// under schemas/. Compilation happens once at startup.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// RequestSchemas names every schema the validator compiles; one file per
// mutating endpoint.
var RequestSchemas = []string{
	"inventory_apply",
	"inventory_set",
	"character_claim",
	"character_heartbeat",
	"ticket_issue",
	"ticket_redeem",
}

func NewValidator(dir string) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(RequestSchemas))}
	for _, name := range RequestSchemas {
		s, err := jsonschema.Compile(filepath.Join(dir, name+".schema.json"))
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// ValidateBody validates a raw JSON body against the named schema. A nil
// Validator accepts everything, so schema checking stays optional.
func (v *Validator) ValidateBody(name string, body []byte) error {
	if v == nil {
		return nil
	}
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
