package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	// The built-in schema is a compile-time constant; a failure here is a bug.
	if err := sr.RegisterSchema("topology", builtinTopologySchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Definition returns the definition def (e.g. "#Topology") of a schema.
func (sr *SchemaRegistry) Definition(schemaName, def string) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	val := schema.LookupPath(cue.ParsePath(def))
	if !val.Exists() {
		return cue.Value{}, fmt.Errorf("schema %s has no definition %s", schemaName, def)
	}
	return val, nil
}

// ValidateAgainstSchema validates data against definition def of a schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName, def string, data interface{}) error {
	defVal, err := sr.Definition(schemaName, def)
	if err != nil {
		return err
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := defVal.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateTopology validates a decoded topology against the built-in schema.
func (sr *SchemaRegistry) ValidateTopology(ctx context.Context, topology Topology) error {
	return sr.ValidateAgainstSchema(ctx, "topology", "#Topology", topology)
}

const builtinTopologySchema = `
#Name: string & =~"^[a-zA-Z0-9_.-]+$"

#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Repository: {
	name: #Name
	kind: "local" | "rest" | "proxy" | "federated"

	path?:         string
	url?:          string & =~"^https?://"
	token?:        string
	timeout?:      #Duration
	max_attempts?: int & >=1

	inner?: #Name
	rewrites?: [...{
		from: string & !=""
		to:   string & !=""
	}]

	members?: [...#Member]

	if kind == "local" {
		path: string & !=""
	}
	if kind == "rest" {
		url: string
	}
	if kind == "proxy" {
		inner: #Name
	}
	if kind == "federated" {
		members: [_, ...]
	}
}

#Member: {
	name:      #Name
	prefixes?: [...string]
}

#Policy: {
	version_behavior?:        "default" | "require-matching" | "force-update"
	experimental_behavior?:   "error" | "warn" | "ignore"
	unknown_status?:          "reject" | "draft"
	allow_multiple_versions?: bool
}

#Rules: {
	paths?: [...string]
	watch?: bool
}

#Logic: {
	timeout?:            #Duration
	max_steps?:          int & >0
	version_convention?: string
}

#Publish: {
	endpoint:    string & !=""
	bucket:      string & =~"^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$"
	prefix?:     string
	region?:     string
	access_key?: string
	secret_key?: string
	use_ssl?:    bool
}

#Topology: {
	repositories: [#Repository, ...#Repository]
	default:      #Name
	policy?:      #Policy
	rules?:       #Rules
	logic?:       #Logic
	publish?:     #Publish
}
`
