package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser reads topology files, checks them against the #Topology schema
// and decodes them.
type CUEParser struct {
	cue      *cue.Context
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewCUEParser creates a parser with the built-in topology schema.
func NewCUEParser() *CUEParser {
	cctx := cuecontext.New()
	return &CUEParser{
		cue:      cctx,
		schemas:  newSchemaRegistry(cctx),
		validate: validator.New(),
	}
}

// Load parses sources and returns the topology, or an *Errors listing every
// problem found.
func (cp *CUEParser) Load(ctx context.Context, sources ...string) (*Topology, error) {
	parsed, err := cp.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid() {
		return nil, &Errors{List: parsed.Errors}
	}
	return parsed.Topology, nil
}

// Parse unifies the given files and directories into one topology.
// Problems with the configuration itself are reported in
// ParsedConfig.Errors; the error return means a source could not be read.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no configuration sources given")
	}

	var (
		merged cue.Value
		files  []string
		errs   []ValidationError
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", src, err)
		}

		val, srcFiles, srcErrs := cp.compile(src, info.IsDir())
		files = append(files, srcFiles...)
		errs = append(errs, srcErrs...)
		switch {
		case !val.Exists():
		case merged.Exists():
			merged = merged.Unify(val)
		default:
			merged = val
		}
	}

	if len(errs) > 0 {
		return &ParsedConfig{SourceFiles: files, ParsedAt: time.Now(), Errors: errs}, nil
	}
	return cp.decode(merged, files), nil
}

// ParseInline parses CUE source held in memory.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files := []string{"inline"}
	val := cp.cue.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedConfig{SourceFiles: files, ParsedAt: time.Now(), Errors: fromCUE(err)}, nil
	}
	return cp.decode(val, files), nil
}

// compile builds one source. A directory is loaded as a CUE package.
func (cp *CUEParser) compile(src string, dir bool) (cue.Value, []string, []ValidationError) {
	if !dir {
		content, err := os.ReadFile(src)
		if err != nil {
			return cue.Value{}, []string{src}, []ValidationError{problem(src, "", "failed to read file: %v", err)}
		}
		val := cp.cue.CompileString(string(content), cue.Filename(src))
		if err := val.Err(); err != nil {
			return cue.Value{}, []string{src}, fromCUE(err)
		}
		return val, []string{src}, nil
	}

	insts := load.Instances([]string{src}, nil)
	if len(insts) == 0 {
		return cue.Value{}, nil, []ValidationError{problem(src, "", "no CUE files found")}
	}
	if err := insts[0].Err; err != nil {
		return cue.Value{}, nil, fromCUE(err)
	}
	val := cp.cue.BuildInstance(insts[0])
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, fromCUE(err)
	}

	var files []string
	for _, f := range insts[0].Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return val, files, nil
}

// decode checks val against #Topology, decodes it and runs the struct tag
// and cross-reference checks. Each stage only runs if the previous passed.
func (cp *CUEParser) decode(val cue.Value, files []string) *ParsedConfig {
	pc := &ParsedConfig{SourceFiles: files, ParsedAt: time.Now()}

	def, err := cp.schemas.Definition("topology", "#Topology")
	if err != nil {
		pc.Errors = []ValidationError{problem("", "", "%v", err)}
		return pc
	}
	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		pc.Errors = fromCUE(err)
		return pc
	}

	var topo Topology
	if err := unified.Decode(&topo); err != nil {
		pc.Errors = []ValidationError{problem("", "", "failed to decode topology: %v", err)}
		return pc
	}
	if err := cp.validate.Struct(topo); err != nil {
		pc.Errors = []ValidationError{problem("", "", "validation failed: %v", err)}
		return pc
	}
	if errs := checkReferences(&topo); len(errs) > 0 {
		pc.Errors = errs
		return pc
	}

	pc.Topology = &topo
	return pc
}

// fromCUE flattens a CUE error list, keeping the first position of each.
func fromCUE(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File, ve.Line, ve.Column = pos[0].Filename(), pos[0].Line(), pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

func problem(file, path, format string, args ...any) ValidationError {
	return ValidationError{
		File:     file,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	}
}

// Errors collects validation problems into one error.
type Errors struct {
	List []ValidationError
}

func (e *Errors) Error() string {
	msgs := make([]string, len(e.List))
	for i, ve := range e.List {
		msgs[i] = ve.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// checkReferences validates names across repositories: uniqueness, the
// default, proxy and federation targets, call timeouts and reference cycles.
func checkReferences(t *Topology) []ValidationError {
	var errs []ValidationError
	byName := make(map[string]RepositoryConfig, len(t.Repositories))

	for i, r := range t.Repositories {
		if _, dup := byName[r.Name]; dup {
			errs = append(errs, problem("", fmt.Sprintf("repositories[%d].name", i), "duplicate repository name %q", r.Name))
			continue
		}
		byName[r.Name] = r
	}
	if _, ok := byName[t.Default]; !ok {
		errs = append(errs, problem("", "default", "default repository %q is not declared", t.Default))
	}

	for i, r := range t.Repositories {
		for _, ref := range references(r) {
			if _, ok := byName[ref]; !ok {
				errs = append(errs, problem("", fmt.Sprintf("repositories[%d]", i),
					"repository %q references undeclared repository %q", r.Name, ref))
			}
		}
		if _, err := r.CallTimeout(); err != nil {
			errs = append(errs, problem("", fmt.Sprintf("repositories[%d].timeout", i), "%v", err))
		}
	}
	if len(errs) > 0 {
		return errs
	}

	if cycle := findCycle(t.Repositories, byName); cycle != nil {
		errs = append(errs, problem("", "repositories", "repository reference cycle: %s", strings.Join(cycle, " -> ")))
	}
	return errs
}

// findCycle returns the first proxy or federation reference cycle, or nil.
func findCycle(repos []RepositoryConfig, byName map[string]RepositoryConfig) []string {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var visit func(name string, path []string) []string
	visit = func(name string, path []string) []string {
		switch state[name] {
		case visiting:
			return append(path, name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, ref := range references(byName[name]) {
			if cycle := visit(ref, append(path, name)); cycle != nil {
				return cycle
			}
		}
		state[name] = done
		return nil
	}
	for _, r := range repos {
		if cycle := visit(r.Name, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

// references lists the repositories r is built on.
func references(r RepositoryConfig) []string {
	switch r.Kind {
	case KindProxy:
		return []string{r.Inner}
	case KindFederated:
		names := make([]string, len(r.Members))
		for i, m := range r.Members {
			names[i] = m.Name
		}
		return names
	}
	return nil
}
