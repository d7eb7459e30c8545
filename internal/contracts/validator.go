// Package contracts enforces response payload contracts for governed
// tool kinds. Schemas live in an embedded tree keyed by schema version
// directory (vN) and filename; lookups happen by the payload's declared
// (kind, schemaVersion) pair.
package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas
var schemasFS embed.FS

var versionDir = regexp.MustCompile(`^v(\d+)$`)

// ContractError reports a payload that failed its declared contract.
// Non-retryable.
type ContractError struct {
	Kind          string
	SchemaVersion int
	Details       []string
}

func (e *ContractError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("payload violates contract %s", e.Kind)
	}
	return fmt.Sprintf("payload violates contract %s: %s", e.Kind, strings.Join(e.Details, "; "))
}

type schemaKey struct {
	version int
	kind    string
}

// Validator holds the compiled schema catalog. Initialized once at
// startup, read-only afterwards.
type Validator struct {
	schemas  map[schemaKey]*jsonschema.Schema
	enforced map[string]bool
}

// NewValidator walks the embedded contracts tree, compiles every schema,
// and registers it under the (schemaVersion, kind) pair taken from its
// ancestor vN directory and filename. enforcedKinds lists the kinds that
// must have a registered schema; an unknown enforced kind fails closed
// at validation time.
func NewValidator(enforcedKinds []string) (*Validator, error) {
	v := &Validator{
		schemas:  make(map[schemaKey]*jsonschema.Schema),
		enforced: make(map[string]bool, len(enforcedKinds)),
	}
	for _, kind := range enforcedKinds {
		v.enforced[strings.ToLower(kind)] = true
	}

	err := fs.WalkDir(schemasFS, "schemas", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		version, ok := schemaVersionFor(p)
		if !ok {
			return fmt.Errorf("schema %s is not under a vN directory", p)
		}
		kind := strings.TrimSuffix(path.Base(p), ".json")

		raw, err := schemasFS.ReadFile(p)
		if err != nil {
			return err
		}
		alias := fmt.Sprintf("contracts://v%d/%s.json", version, kind)
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(alias, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("register schema %s: %w", p, err)
		}
		schema, err := compiler.Compile(alias)
		if err != nil {
			return fmt.Errorf("compile schema %s: %w", p, err)
		}
		v.schemas[schemaKey{version: version, kind: kind}] = schema
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// schemaVersionFor extracts N from the nearest vN ancestor directory.
func schemaVersionFor(p string) (int, bool) {
	dir := path.Dir(p)
	for dir != "." && dir != "/" {
		base := path.Base(dir)
		if m := versionDir.FindStringSubmatch(base); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, true
			}
		}
		dir = path.Dir(dir)
	}
	return 0, false
}

// Governed reports whether the payload declares both contract fields:
// a string kind and a numeric schemaVersion.
func Governed(payload map[string]any) (kind string, version int, ok bool) {
	rawKind, hasKind := payload["kind"].(string)
	if !hasKind || rawKind == "" {
		return "", 0, false
	}
	switch n := payload["schemaVersion"].(type) {
	case float64:
		return rawKind, int(n), true
	case int:
		return rawKind, n, true
	case int64:
		return rawKind, int(n), true
	default:
		return "", 0, false
	}
}

// Validate checks a tool payload against its declared contract.
//
// Payloads without both contract fields pass untouched. A registered
// schema that rejects the payload, or a missing schema for an enforced
// kind, returns a *ContractError. A missing schema for an unenforced
// kind returns a warning and passes.
func (v *Validator) Validate(payload map[string]any) ([]string, error) {
	kind, version, governed := Governed(payload)
	if !governed {
		return nil, nil
	}

	schema, ok := v.schemas[schemaKey{version: version, kind: kind}]
	if !ok {
		if v.enforced[strings.ToLower(kind)] {
			return nil, &ContractError{
				Kind:          kind,
				SchemaVersion: version,
				Details:       []string{fmt.Sprintf("no schema registered for enforced kind %q v%d", kind, version)},
			}
		}
		return []string{fmt.Sprintf("no schema registered for kind %q v%d, validation skipped", kind, version)}, nil
	}

	doc, err := toJSONValue(payload)
	if err != nil {
		return nil, &ContractError{
			Kind:          kind,
			SchemaVersion: version,
			Details:       []string{fmt.Sprintf("payload is not JSON-serializable: %v", err)},
		}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ContractError{
			Kind:          kind,
			SchemaVersion: version,
			Details:       flatten(err),
		}
	}
	return nil, nil
}

// maxDetails caps the flattened violation list kept on a contract error.
const maxDetails = 8

// flatten walks the validation error tree into short leaf messages.
func flatten(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var details []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(details) >= maxDetails {
			return
		}
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			details = append(details, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	if len(details) == 0 {
		details = append(details, verr.Message)
	}
	return details
}

// toJSONValue round-trips the payload through encoding/json so the
// schema engine sees exactly the wire shapes (float64 numbers, nested
// map[string]any and []any).
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
