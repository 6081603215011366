// Package jsruntime is the JS task runtime executed inside a worker
// process (§4.8): schema validation, sandboxed fetch injection, typed
// error classification and execution-context injection. It has no
// network or filesystem access of its own beyond what is explicitly
// injected — the goja VM it wraps never sees Go's os or net packages.
package jsruntime

import (
	"fmt"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ratchetdata/ratchet/internal/rerr"
)

// schemaCache memoizes compiled schemas by their source text so a worker
// re-running the same task repeatedly does not recompile the schema on
// every ExecuteTask (SPEC_FULL.md §4.8: patrickmn/go-cache used here as
// the compiled-schema cache, the same library the teacher's session
// package uses for short-lived in-memory caches).
var schemaCache = cache.New(cache.NoExpiration, 0)
var schemaCacheMu sync.Mutex

// CompileSchema compiles and caches a JSON Schema document (draft-07 or
// later, per §4.8). The cache key is the raw schema text.
func CompileSchema(doc string) (*jsonschema.Schema, error) {
	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()

	if v, ok := schemaCache.Get(doc); ok {
		return v.(*jsonschema.Schema), nil
	}

	unmarshaled, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, fmt.Errorf("parse schema: %w", err))
	}

	compiler := jsonschema.NewCompiler()
	resourceURL := fmt.Sprintf("mem://schema/%d", len(schemaCache.Items()))
	if err := compiler.AddResource(resourceURL, unmarshaled); err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, fmt.Errorf("add schema resource: %w", err))
	}
	sch, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, fmt.Errorf("compile schema: %w", err))
	}

	schemaCache.SetDefault(doc, sch)
	return sch, nil
}

// Validate checks instanceJSON (raw JSON text) against the compiled
// schema. Validation is idempotent (§8): the same (value, schema) pair
// always yields the same outcome, since CompileSchema caches by text and
// jsonschema.Schema.Validate has no side effects.
func Validate(schemaDoc, instanceJSON string) error {
	sch, err := CompileSchema(schemaDoc)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(instanceJSON))
	if err != nil {
		return rerr.Wrap(rerr.KindValidation, fmt.Errorf("parse instance: %w", err))
	}
	if err := sch.Validate(inst); err != nil {
		return rerr.New(rerr.KindValidation, err.Error())
	}
	return nil
}
