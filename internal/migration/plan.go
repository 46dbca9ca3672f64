// Package migration turns a declarative plan into dependency-ordered phases
// and drives them through the validator and the batch mutator.
package migration

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/validate"
)

// Document modes
const (
	ModeCreate          = "create"
	ModeCreateOrReplace = "createOrReplace"
)

// Plan is the desired end state loaded from a plan file
type Plan struct {
	Name      string                     `yaml:"name"`
	Documents []DocumentSpec             `yaml:"documents"`
	Patches   []PatchSpec                `yaml:"patches"`
	Renames   []validate.RenameCandidate `yaml:"renames"`
	Deletes   []validate.Candidate       `yaml:"deletes"`
	Remap     Remap                      `yaml:"remap"`
}

// DocumentSpec is a document that must exist after the run
type DocumentSpec struct {
	Mode   string      `yaml:"mode"`
	ID     string      `yaml:"id"`
	Type   string      `yaml:"type"`
	Fields core.Fields `yaml:"fields"`
}

// PatchSpec is a field diff for an existing document. Type is optional and
// only used to apply field remaps.
type PatchSpec struct {
	ID    string         `yaml:"id"`
	Type  string         `yaml:"type"`
	Set   map[string]any `yaml:"set"`
	Unset []string       `yaml:"unset"`
}

// Remap redirects stale ids and field names before any operation is built.
// IDs maps an old document id to its canonical id; Fields maps, per document
// type, an old field name to its new name.
type Remap struct {
	IDs    map[string]string            `yaml:"ids"`
	Fields map[string]map[string]string `yaml:"fields"`
}

//go:embed plan.schema.yaml
var planSchemaYAML []byte

var (
	planSchemaOnce sync.Once
	planSchema     *gojsonschema.Schema
	planSchemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	planSchemaOnce.Do(func() {
		var schemaData any
		if err := yaml.Unmarshal(planSchemaYAML, &schemaData); err != nil {
			planSchemaErr = fmt.Errorf("parsing plan schema: %w", err)
			return
		}
		// Convert YAML to JSON for gojsonschema
		jsonBytes, err := json.Marshal(schemaData)
		if err != nil {
			planSchemaErr = fmt.Errorf("encoding plan schema: %w", err)
			return
		}
		planSchema, planSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(jsonBytes))
	})
	return planSchema, planSchemaErr
}

// LoadPlan reads and schema-checks a plan file
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("reading plan: %v", err)}
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML (or JSON) plan and validates it against the plan schema
func ParsePlan(data []byte) (*Plan, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("parsing plan: %v", err)}
	}
	if raw == nil {
		return nil, &core.ConfigurationError{Reason: "plan is empty"}
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("validating plan: %v", err)}
	}
	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			field := verr.Field()
			if field == "" {
				field = "root"
			}
			msgs = append(msgs, field+": "+verr.Description())
		}
		return nil, &core.ConfigurationError{Reason: "invalid plan: " + strings.Join(msgs, "; ")}
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("decoding plan: %v", err)}
	}
	for i := range plan.Patches {
		for k, v := range plan.Patches[i].Set {
			nv, err := core.NormalizeValue(v)
			if err != nil {
				return nil, &core.ConfigurationError{Reason: fmt.Sprintf("patch %s: %v", plan.Patches[i].ID, err)}
			}
			plan.Patches[i].Set[k] = nv
		}
	}
	return &plan, nil
}

// fieldRemap returns the field renames that apply to documents of docType:
// the explicit table plus every type-scoped rename in the plan
func (p *Plan) fieldRemap(docType string) map[string]string {
	out := make(map[string]string)
	for _, r := range p.Renames {
		if r.ID == "" && r.Type == docType {
			out[r.From] = r.To
		}
	}
	for from, to := range p.Remap.Fields[docType] {
		out[from] = to
	}
	return out
}

// Operations builds the operation list with the remap table applied.
// Type-scoped renames are returned separately because they need the live
// store to expand.
func (p *Plan) Operations() (ops []core.Operation, typeRenames []validate.RenameCandidate) {
	for _, entry := range p.Documents {
		doc := &core.Document{ID: entry.ID, Type: entry.Type}
		doc.Fields = remapFields(core.RewriteFieldReferences(entry.Fields, p.Remap.IDs), p.fieldRemap(entry.Type))
		if entry.Mode == ModeCreate {
			ops = append(ops, core.CreateOp(doc))
		} else {
			ops = append(ops, core.CreateOrReplaceOp(doc))
		}
	}

	for _, entry := range p.Patches {
		fields := p.fieldRemap(entry.Type)
		patch := core.Patch{}
		if len(entry.Set) > 0 {
			patch.Set = make(map[string]any, len(entry.Set))
			for k, v := range entry.Set {
				if to, ok := fields[k]; ok {
					k = to
				}
				patch.Set[k] = core.RewriteReferences(v, p.Remap.IDs)
			}
		}
		for _, k := range entry.Unset {
			if to, ok := fields[k]; ok {
				k = to
			}
			patch.Unset = append(patch.Unset, k)
		}
		ops = append(ops, core.PatchOp(entry.ID, patch))
	}

	for _, r := range p.Renames {
		if r.ID == "" {
			typeRenames = append(typeRenames, r)
			continue
		}
		ops = append(ops, core.RenameOp(r.ID, r.From, r.To))
	}

	for _, d := range p.Deletes {
		ops = append(ops, core.DeleteOp(d.ID, d.Type, d.Reason))
	}
	return ops, typeRenames
}

func remapFields(fields core.Fields, renames map[string]string) core.Fields {
	if len(renames) == 0 {
		return fields
	}
	out := fields.Clone()
	froms := make([]string, 0, len(renames))
	for from := range renames {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		out.Rename(from, renames[from])
	}
	return out
}
