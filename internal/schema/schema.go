// Package schema loads concrete and context type declarations from CUE.
//
// Trace formats register their built-in types in Go; a schema file lets an
// operator add types (or check a format's types) without recompiling:
//
//	concrete: process: {
//		category: "actor"
//		props: {cmdline: true, pid: false} // true = required
//	}
//	context: cadets_context: keys: ["time", "event", "host"]
package schema

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/registry"
)

// definitions constrains the shape of a schema file.
const definitions = `
#Category: "actor" | "store" | "conduit"
#Concrete: {
	category: #Category
	props: [string]: bool
}
#Context: {
	keys: [...string]
}
concrete?: [string]: #Concrete
context?: [string]: #Context
`

// Declarations are the types declared by a schema.
type Declarations struct {
	Concrete []ir.ConcreteType
	Context  []ir.ContextType
}

// CompileError is a schema error with its CUE source position, if known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a schema from a .cue file or from the CUE package in a
// directory.
func Load(path string) (*Declarations, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	ctx := cuecontext.New()

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		return Compile(ctx.CompileBytes(data, cue.Filename(path)))
	}

	files, err := filepath.Glob(filepath.Join(path, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("schema: no CUE files found in %s", path)
	}
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema: no CUE instances loaded from %s", path)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(ctx.BuildInstance(instances[0]))
}

// Compile extracts declarations from a CUE value. The value is first
// checked against the schema definitions.
func Compile(v cue.Value) (*Declarations, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	checked := v.Context().CompileString(definitions).Unify(v)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	decls := &Declarations{}
	var err error
	if decls.Concrete, err = compileConcrete(checked.LookupPath(cue.ParsePath("concrete"))); err != nil {
		return nil, err
	}
	if decls.Context, err = compileContext(checked.LookupPath(cue.ParsePath("context"))); err != nil {
		return nil, err
	}
	if len(decls.Concrete) == 0 && len(decls.Context) == 0 {
		return nil, &CompileError{Field: "schema", Message: "no concrete or context types declared", Pos: v.Pos()}
	}
	return decls, nil
}

func compileConcrete(v cue.Value) ([]ir.ConcreteType, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.ConcreteType
	for iter.Next() {
		tv := iter.Value()
		ct := ir.ConcreteType{Name: iter.Label(), Props: make(map[string]bool)}

		catStr, err := tv.LookupPath(cue.ParsePath("category")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if ct.Category, err = ir.ParseCategory(catStr); err != nil {
			return nil, &CompileError{Field: "concrete." + ct.Name + ".category", Message: err.Error(), Pos: tv.Pos()}
		}

		props := tv.LookupPath(cue.ParsePath("props"))
		if props.Exists() {
			pi, err := props.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for pi.Next() {
				required, err := pi.Value().Bool()
				if err != nil {
					return nil, formatCUEError(err)
				}
				ct.Props[pi.Label()] = required
			}
		}
		out = append(out, ct)
	}
	slices.SortFunc(out, func(a, b ir.ConcreteType) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func compileContext(v cue.Value) ([]ir.ContextType, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.ContextType
	for iter.Next() {
		tv := iter.Value()
		ct := ir.ContextType{Name: iter.Label()}

		keys, err := tv.LookupPath(cue.ParsePath("keys")).List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for keys.Next() {
			k, err := keys.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if slices.Contains(ct.Keys, k) {
				return nil, &CompileError{
					Field:   "context." + ct.Name + ".keys",
					Message: fmt.Sprintf("duplicate key %q", k),
					Pos:     keys.Value().Pos(),
				}
			}
			ct.Keys = append(ct.Keys, k)
		}
		out = append(out, ct)
	}
	slices.SortFunc(out, func(a, b ir.ContextType) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// Register adds every declaration to reg. Declarations identical to ones
// already registered (for example by a trace format) are accepted.
func (d *Declarations) Register(reg *registry.Registry) error {
	for _, ct := range d.Concrete {
		if err := reg.RegisterConcreteType(ct); err != nil {
			return err
		}
	}
	for _, ct := range d.Context {
		if err := reg.RegisterContextType(ct); err != nil {
			return err
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
