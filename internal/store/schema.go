package store

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// runStateSchemaJSON is the structural shape a run_state.json document must
// have. Validating against it before unmarshalling turns a corrupt or
// hand-edited state file into a specific diagnostic (spec §4.2: "any
// directory without a valid state file is reported with status=failed and
// a diagnostic, not hidden") instead of a bare encoding/json error.
//
// Adapted from the teacher's use of santhosh-tekuri/jsonschema/v5 to
// validate tool-call arguments in internal/agent/tool_registry.go
// (compileSchema): same compiler/AddResource/Compile call shape, applied to
// a document instead of a tool's argument object.
const runStateSchemaJSON = `{
  "type": "object",
  "required": ["run_id", "name", "account", "status", "created_at", "updated_at", "stages"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "account": {"type": "string"},
    "parameters": {"type": ["object", "null"]},
    "status": {"type": "string", "enum": ["created", "running", "completed", "failed"]},
    "created_at": {"type": "string"},
    "updated_at": {"type": "string"},
    "stages": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["status", "job_id", "updated_at"],
        "properties": {
          "status": {"type": "string", "enum": ["pending", "running", "completed", "failed", "cancelled"]},
          "job_id": {"type": "string"},
          "updated_at": {"type": "string"}
        }
      }
    }
  }
}`

var runStateSchema = mustCompileSchema(runStateSchemaJSON)

func mustCompileSchema(doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("run_state.json", strings.NewReader(doc)); err != nil {
		panic("store: invalid embedded run_state schema: " + err.Error())
	}
	s, err := c.Compile("run_state.json")
	if err != nil {
		panic("store: cannot compile embedded run_state schema: " + err.Error())
	}
	return s
}

// validateRunStateDoc checks a decoded (generic, interface{}-typed) JSON
// document against runStateSchema.
func validateRunStateDoc(doc any) error {
	return runStateSchema.Validate(doc)
}
