package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

const (
	amountSchema  = `{"type": ["string", "integer"], "pattern": "^[0-9]+$", "minimum": 0}`
	addressSchema = `{"type": "string", "minLength": 1, "maxLength": 128}`
)

// requestSchemas are the JSON Schemas of every request body, keyed by operation.
var requestSchemas = map[string]string{
	"agent.register": `{
		"type": "object",
		"required": ["wallet"],
		"properties": {
			"wallet": ` + addressSchema + `,
			"name": {"type": "string", "maxLength": 256},
			"description": {"type": "string", "maxLength": 4096}
		},
		"additionalProperties": false
	}`,
	"ledger.deposit": `{
		"type": "object",
		"required": ["amount"],
		"properties": {"amount": ` + amountSchema + `},
		"additionalProperties": false
	}`,
	"ledger.debit": `{
		"type": "object",
		"required": ["recipient", "amount"],
		"properties": {
			"recipient": ` + addressSchema + `,
			"amount": ` + amountSchema + `
		},
		"additionalProperties": false
	}`,
	"ledger.limit": `{
		"type": "object",
		"required": ["daily_limit"],
		"properties": {"daily_limit": ` + amountSchema + `},
		"additionalProperties": false
	}`,
	"agent.active": `{
		"type": "object",
		"required": ["active"],
		"properties": {"active": {"type": "boolean"}},
		"additionalProperties": false
	}`,
	"ledger.authorize": `{
		"type": "object",
		"required": ["enabled"],
		"properties": {"enabled": {"type": "boolean"}},
		"additionalProperties": false
	}`,
	"rule.create": `{
		"type": "object",
		"required": ["agent_id", "recipient", "amount", "rule_type"],
		"properties": {
			"agent_id": ` + addressSchema + `,
			"recipient": ` + addressSchema + `,
			"amount": ` + amountSchema + `,
			"rule_type": {"type": ["string", "integer"]},
			"condition": {}
		},
		"additionalProperties": false
	}`,
	"rule.execute": `{
		"type": "object",
		"properties": {"proof": {}},
		"additionalProperties": false
	}`,
	"subscription.create": `{
		"type": "object",
		"required": ["agent_id", "recipient", "amount", "period_seconds"],
		"properties": {
			"agent_id": ` + addressSchema + `,
			"recipient": ` + addressSchema + `,
			"amount": ` + amountSchema + `,
			"period_seconds": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,
	"stream.create": `{
		"type": "object",
		"required": ["agent_id", "recipient", "total", "duration_seconds"],
		"properties": {
			"agent_id": ` + addressSchema + `,
			"recipient": ` + addressSchema + `,
			"total": ` + amountSchema + `,
			"duration_seconds": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,
	"escrow.create": `{
		"type": "object",
		"required": ["payee", "amount"],
		"properties": {
			"payee": ` + addressSchema + `,
			"amount": ` + amountSchema + `,
			"description": {"type": "string", "maxLength": 4096},
			"auto_release": {"type": "boolean"},
			"release_time": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`,
	"escrow.create_milestone": `{
		"type": "object",
		"required": ["payee", "total", "milestones"],
		"properties": {
			"payee": ` + addressSchema + `,
			"total": ` + amountSchema + `,
			"milestones": {"type": "integer", "minimum": 1, "maximum": 100},
			"description": {"type": "string", "maxLength": 4096}
		},
		"additionalProperties": false
	}`,
	"token.mint": `{
		"type": "object",
		"required": ["holder", "amount"],
		"properties": {
			"holder": ` + addressSchema + `,
			"amount": ` + amountSchema + `
		},
		"additionalProperties": false
	}`,
	"token.approve": `{
		"type": "object",
		"required": ["spender", "amount"],
		"properties": {
			"spender": ` + addressSchema + `,
			"amount": ` + amountSchema + `
		},
		"additionalProperties": false
	}`,
}

// validator holds the compiled request schemas.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	v := &validator{schemas: make(map[string]*jsonschema.Schema, len(requestSchemas))}
	for name, src := range requestSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://agentpay.schemas.local/requests/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("request schema %s load failed: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("request schema %s compile failed: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// decode reads the request body, validates it against the named schema and
// unmarshals it into dst. It writes a 400 response and returns false on failure.
func (v *validator) decode(w http.ResponseWriter, r *http.Request, name string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body too large or unreadable")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if schema, ok := v.schemas[name]; ok {
		if err := schema.Validate(doc); err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", validationDetail(err))
			return false
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "invalid request body")
		return false
	}
	return true
}

func validationDetail(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return fmt.Sprintf("request validation failed at %s: %s", loc, leaf.Message)
	}
	return "request validation failed"
}
