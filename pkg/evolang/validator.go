package evolang

import (
	"fmt"
	"sort"
)

// ValType is the validator's coarse type lattice. It exists only to
// catch undefined names and String-operand misuse before simulation
// starts; it is not a full type system and never blocks a program on
// its own beyond those two diagnoses.
type ValType int

const (
	TUnknown ValType = iota
	TInt
	TString
	TBool
	TList
	TObject
	TEnvironment
)

// ValidationError is one diagnosis produced by Validate. Note entries
// (dynamic property creation) are informational and do not abort the
// run; every other entry does.
type ValidationError struct {
	Msg  string
	Note bool
}

func (e ValidationError) String() string { return e.Msg }

// Validate walks the AST once with a scope-typed symbol environment and
// returns every diagnosis found. A non-empty result containing at least
// one non-Note entry means the program must not be simulated.
func Validate(prog *Program) []ValidationError {
	v := &validator{prog: prog, propTypes: make(map[string]map[string]ValType)}
	v.inferPropertyTypes()

	var errs []ValidationError
	globals := v.newGlobalScope()

	for _, sp := range v.sortedSpecies() {
		for _, pd := range sp.Properties {
			scope := cloneScope(globals)
			scope["self"] = TObject
			errs = append(errs, v.checkExpr(pd.Expr, scope, "species:"+sp.Name)...)
		}
		if sp.Routine != "" {
			if routine, ok := v.prog.Routines[sp.Routine]; ok {
				scope := cloneScope(globals)
				scope["self"] = TObject
				errs = append(errs, v.checkCommands(routine.Body, scope, "routine:"+sp.Routine)...)
			}
		}
	}

	fitnessScope := cloneScope(globals)
	fitnessScope["self"] = TObject
	errs = append(errs, v.checkCommands(v.prog.Fitness, fitnessScope, "fitness")...)

	for _, rule := range v.prog.Mutations {
		scope := cloneScope(globals)
		if rule.Action == "crossover" {
			scope["parent1"] = TObject
			scope["parent2"] = TObject
			scope["child"] = TObject
		} else {
			scope["self"] = TObject
		}
		errs = append(errs, v.checkCommands(rule.Body, scope, "mutate:"+rule.Action)...)
	}

	spawnScope := cloneScope(globals)
	errs = append(errs, v.checkCommands(v.prog.Spawn, spawnScope, "spawn")...)

	if v.prog.VisualizeActive {
		visScope := cloneScope(globals)
		errs = append(errs, v.checkCommands(v.prog.Visualize, visScope, "visualize")...)
	}

	return errs
}

type validator struct {
	prog      *Program
	propTypes map[string]map[string]ValType
}

func (v *validator) newGlobalScope() map[string]ValType {
	return map[string]ValType{
		"width":       TInt,
		"height":      TInt,
		"steps":       TInt,
		"environment": TEnvironment,
	}
}

func cloneScope(s map[string]ValType) map[string]ValType {
	out := make(map[string]ValType, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (v *validator) sortedSpecies() []*SpeciesDef {
	out := make([]*SpeciesDef, 0, len(v.prog.Species))
	for _, sp := range v.prog.Species {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// inferPropertyTypes runs a pre-pass that infers the coarse type of
// every species property's default expression, independent of any
// particular scope (they're only used to seed "known property" checks,
// not for cross-property type propagation).
func (v *validator) inferPropertyTypes() {
	base := v.newGlobalScope()
	base["self"] = TObject
	for name, sp := range v.prog.Species {
		types := make(map[string]ValType)
		for _, pd := range sp.Properties {
			types[pd.Name] = v.inferType(pd.Expr, base)
		}
		v.propTypes[name] = types
	}
}

func (v *validator) isKnownProperty(name string) bool {
	for _, types := range v.propTypes {
		if _, ok := types[name]; ok {
			return true
		}
	}
	return name == "x" || name == "y" || name == "species" || name == "fitness" || name == "self"
}

func (v *validator) checkCommands(cmds []Command, scope map[string]ValType, context string) []ValidationError {
	var errs []ValidationError
	for _, cmd := range cmds {
		errs = append(errs, v.checkCommand(cmd, scope, context)...)
	}
	return errs
}

func (v *validator) checkCommand(cmd Command, scope map[string]ValType, context string) []ValidationError {
	switch c := cmd.(type) {
	case *ExprStmt:
		return v.checkExpr(c.X, scope, context)
	case *AssignStmt:
		var errs []ValidationError
		errs = append(errs, v.checkExpr(c.Value, scope, context)...)
		valType := v.inferType(c.Value, scope)
		switch target := c.Target.(type) {
		case *VarExpr:
			scope[target.Name] = valType
		case *DotExpr:
			errs = append(errs, v.checkExpr(target.Object, scope, context)...)
			if !v.isKnownProperty(target.Field) && target.Field != "x" && target.Field != "y" {
				errs = append(errs, ValidationError{
					Msg:  fmt.Sprintf("Note: Dynamic property '%s' created on line %d", target.Field, c.Line),
					Note: true,
				})
			}
		case *IndexExpr:
			errs = append(errs, v.checkExpr(target.Target, scope, context)...)
			errs = append(errs, v.checkExpr(target.Index, scope, context)...)
		}
		return errs
	case *IfStmt:
		var errs []ValidationError
		errs = append(errs, v.checkBExpr(c.Cond, scope, context)...)
		errs = append(errs, v.checkCommands(c.Then, cloneScope(scope), context)...)
		errs = append(errs, v.checkCommands(c.Else, cloneScope(scope), context)...)
		return errs
	case *WhileStmt:
		var errs []ValidationError
		errs = append(errs, v.checkBExpr(c.Cond, scope, context)...)
		errs = append(errs, v.checkCommands(c.Body, cloneScope(scope), context)...)
		return errs
	case *ForStmt:
		inner := cloneScope(scope)
		inner[c.Var] = TObject
		return v.checkCommands(c.Body, inner, context)
	case *ReturnStmt:
		return v.checkExpr(c.X, scope, context)
	case *PrintStmt:
		var errs []ValidationError
		for _, a := range c.Args {
			errs = append(errs, v.checkExpr(a, scope, context)...)
		}
		return errs
	case *SpawnStmt:
		var errs []ValidationError
		errs = append(errs, v.checkExpr(c.X, scope, context)...)
		errs = append(errs, v.checkExpr(c.Y, scope, context)...)
		return errs
	}
	return nil
}

func (v *validator) checkExpr(e Expr, scope map[string]ValType, context string) []ValidationError {
	switch x := e.(type) {
	case *IntLit, *BoolLit, *StringLit:
		return nil
	case *VarExpr:
		if _, ok := scope[x.Name]; ok {
			return nil
		}
		if v.isKnownProperty(x.Name) {
			return nil
		}
		return []ValidationError{{
			Msg: fmt.Sprintf("[%s] Undefined variable: %s at line %d", context, x.Name, x.Line),
		}}
	case *DotExpr:
		return v.checkExpr(x.Object, scope, context)
	case *BinaryExpr:
		var errs []ValidationError
		errs = append(errs, v.checkExpr(x.Left, scope, context)...)
		errs = append(errs, v.checkExpr(x.Right, scope, context)...)
		if x.Op != "+" {
			lt := v.inferType(x.Left, scope)
			rt := v.inferType(x.Right, scope)
			if lt == TString || rt == TString {
				errs = append(errs, ValidationError{
					Msg: fmt.Sprintf("Cannot use operator '%s' on a String", x.Op),
				})
			}
		}
		return errs
	case *CallExpr:
		var errs []ValidationError
		for _, a := range x.Args {
			errs = append(errs, v.checkExpr(a, scope, context)...)
		}
		return errs
	case *IndexExpr:
		var errs []ValidationError
		errs = append(errs, v.checkExpr(x.Target, scope, context)...)
		errs = append(errs, v.checkExpr(x.Index, scope, context)...)
		return errs
	case *ListLit:
		var errs []ValidationError
		for _, it := range x.Items {
			errs = append(errs, v.checkExpr(it, scope, context)...)
		}
		return errs
	}
	return nil
}

func (v *validator) checkBExpr(b BExpr, scope map[string]ValType, context string) []ValidationError {
	switch x := b.(type) {
	case *CompareExpr:
		var errs []ValidationError
		errs = append(errs, v.checkExpr(x.Left, scope, context)...)
		errs = append(errs, v.checkExpr(x.Right, scope, context)...)
		return errs
	case *AndExpr:
		var errs []ValidationError
		errs = append(errs, v.checkBExpr(x.Left, scope, context)...)
		errs = append(errs, v.checkBExpr(x.Right, scope, context)...)
		return errs
	case *OrExpr:
		var errs []ValidationError
		errs = append(errs, v.checkBExpr(x.Left, scope, context)...)
		errs = append(errs, v.checkBExpr(x.Right, scope, context)...)
		return errs
	}
	return nil
}

// inferType infers the coarse type of an expression for the purposes of
// the String-operand check and property-type seeding. It never reports
// errors itself.
func (v *validator) inferType(e Expr, scope map[string]ValType) ValType {
	switch x := e.(type) {
	case *IntLit:
		return TInt
	case *BoolLit:
		return TBool
	case *StringLit:
		return TString
	case *VarExpr:
		if t, ok := scope[x.Name]; ok {
			return t
		}
		return TUnknown
	case *DotExpr:
		return TUnknown
	case *BinaryExpr:
		return TInt
	case *CallExpr:
		return callReturnType(x.Name)
	case *IndexExpr:
		return TUnknown
	case *ListLit:
		return TList
	}
	return TUnknown
}

func callReturnType(name string) ValType {
	switch name {
	case "len", "random", "dist", "draw_rect", "draw_line", "draw_circle", "push":
		return TInt
	case "get_at":
		return TObject
	case "pop":
		return TUnknown
	default:
		return TInt
	}
}
