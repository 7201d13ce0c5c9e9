package evolang

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// DrawCommand is one queued visualization primitive.
type DrawCommand interface {
	drawCommandNode()
}

// DrawRect is a draw_rect(x,y,w,h[,r,g,b]) call.
type DrawRect struct{ X, Y, W, H, R, G, B int32 }

// DrawLine is a draw_line(x1,y1,x2,y2[,r,g,b,thickness]) call.
type DrawLine struct{ X1, Y1, X2, Y2, R, G, B, Thickness int32 }

// DrawCircle is a draw_circle(x,y,radius[,r,g,b]) call.
type DrawCircle struct{ X, Y, Radius, R, G, B int32 }

func (DrawRect) drawCommandNode()   {}
func (DrawLine) drawCommandNode()   {}
func (DrawCircle) drawCommandNode() {}

// EvalContext carries the pass-scoped evaluation state: the grid cache,
// the draw-command buffer, the spawn buffer, and the world dimensions.
// It is threaded explicitly through every evaluator call, built fresh
// for each step or visualization pass, and discarded at the end of it.
type EvalContext struct {
	Width, Height int32

	Agents []*Individual

	// GridCache maps (x mod W, y mod H) to the last agent written to
	// that cell. It is advisory: a miss or a stale entry falls back to
	// the linear scan, which is always authoritative.
	GridCache map[[2]int32]*Individual

	DrawBuffer *[]DrawCommand

	// SpawnBuffer accumulates Individuals created by Spawn commands
	// during this pass; the caller drains it into the live agent list
	// at the end of the tick (spawns are not visible mid-tick).
	SpawnBuffer *[]*Individual

	Rng *rand.Rand

	Program *Program
}

func (c *EvalContext) species(name string) *SpeciesDef {
	if c.Program == nil {
		return nil
	}
	return c.Program.Species[name]
}

// printLine writes one print() output line to standard output, the
// same sink the engine's generation telemetry goes to.
func printLine(parts []string) {
	fmt.Fprintln(os.Stdout, strings.Join(parts, " "))
}

// LookupGrid resolves the agent at toroidal position (x, y), consulting
// the grid cache first and falling back to a linear scan of Agents.
func (c *EvalContext) LookupGrid(x, y int32) (*Individual, bool) {
	wx, wy := mod(x, c.Width), mod(y, c.Height)
	if c.GridCache != nil {
		if ind, ok := c.GridCache[[2]int32{wx, wy}]; ok {
			ax, _ := ind.Env.Get("x")
			ay, _ := ind.Env.Get("y")
			if mod(ToInt32(ax), c.Width) == wx && mod(ToInt32(ay), c.Height) == wy {
				return ind, true
			}
		}
	}
	for _, ind := range c.Agents {
		ax, _ := ind.Env.Get("x")
		ay, _ := ind.Env.Get("y")
		if mod(ToInt32(ax), c.Width) == wx && mod(ToInt32(ay), c.Height) == wy {
			return ind, true
		}
	}
	return nil, false
}

// LookupExact resolves the agent at exact (unwrapped) position (x, y),
// used by get_at. The grid cache is consulted first, but a cached agent
// is returned only when its stored coordinates equal (x, y) exactly;
// otherwise a linear scan compares exact coordinates. No modulo is
// applied to the match.
func (c *EvalContext) LookupExact(x, y int32) (*Individual, bool) {
	if c.GridCache != nil {
		if ind, ok := c.GridCache[[2]int32{mod(x, c.Width), mod(y, c.Height)}]; ok {
			ax, _ := ind.Env.Get("x")
			ay, _ := ind.Env.Get("y")
			if ToInt32(ax) == x && ToInt32(ay) == y {
				return ind, true
			}
		}
	}
	for _, ind := range c.Agents {
		ax, _ := ind.Env.Get("x")
		ay, _ := ind.Env.Get("y")
		if ToInt32(ax) == x && ToInt32(ay) == y {
			return ind, true
		}
	}
	return nil, false
}

// ToInt is the integer-evaluation fast path. It must agree with
// ToInt32(ToValue(e, env, ctx)) for every expression except a bare
// Var: on a missing variable, ToInt additionally falls back to self's
// store before giving up and returning 0. ToValue deliberately does
// not share that fallback; the asymmetry is load-bearing for programs
// that read a property bare in arithmetic but assign it via self.
func ToInt(e Expr, env *Environment, ctx *EvalContext) int32 {
	switch x := e.(type) {
	case *VarExpr:
		if v, ok := env.Get(x.Name); ok {
			return ToInt32(v)
		}
		if selfVal, ok := env.Get("self"); ok {
			if obj, ok := selfVal.(*ObjectValue); ok {
				if v, ok := obj.Env.Get(x.Name); ok {
					return ToInt32(v)
				}
			}
		}
		return 0
	case *BinaryExpr:
		l := ToInt(x.Left, env, ctx)
		r := ToInt(x.Right, env, ctx)
		switch x.Op {
		case "+":
			return l + r
		case "-":
			return l - r
		case "*":
			return l * r
		case "/":
			if r == 0 {
				return 0
			}
			return l / r
		case "%":
			if r == 0 {
				return 0
			}
			return l % r
		default:
			return 0
		}
	default:
		return ToInt32(ToValue(e, env, ctx))
	}
}

// ToValue is the general expression-evaluation path. On a bare Var it
// resolves, in order: the current environment's store; then, if the
// name is "environment", the Environment sentinel; otherwise Int(0).
// Unlike ToInt, it never falls back to self's store.
func ToValue(e Expr, env *Environment, ctx *EvalContext) Value {
	switch x := e.(type) {
	case *IntLit:
		return IntValue(x.Value)
	case *BoolLit:
		return BoolValue(x.Value)
	case *StringLit:
		return StringValue(x.Value)
	case *VarExpr:
		if v, ok := env.Get(x.Name); ok {
			return v
		}
		if x.Name == "environment" {
			return EnvironmentValue{}
		}
		return IntValue(0)
	case *BinaryExpr:
		return IntValue(ToInt(x, env, ctx))
	case *DotExpr:
		obj := ToValue(x.Object, env, ctx)
		if o, ok := obj.(*ObjectValue); ok {
			if v, ok := o.Env.Get(x.Field); ok {
				return v
			}
		}
		return IntValue(0)
	case *IndexExpr:
		return evalIndex(x, env, ctx)
	case *ListLit:
		items := make([]Value, len(x.Items))
		for i, it := range x.Items {
			items[i] = ToValue(it, env, ctx)
		}
		return NewList(items...)
	case *CallExpr:
		return evalCall(x, env, ctx)
	}
	return IntValue(0)
}

func evalIndex(x *IndexExpr, env *Environment, ctx *EvalContext) Value {
	target := ToValue(x.Target, env, ctx)
	switch t := target.(type) {
	case *ListValue:
		idx := int(ToInt(x.Index, env, ctx))
		if v, ok := t.At(idx); ok {
			return v
		}
		return IntValue(0)
	case EnvironmentValue:
		idx := ToInt(x.Index, env, ctx)
		return GridRowValue{X: idx}
	case GridRowValue:
		y := ToInt(x.Index, env, ctx)
		if ind, ok := ctx.LookupGrid(t.X, y); ok {
			return &ObjectValue{Env: ind.Env}
		}
		return IntValue(0)
	default:
		return IntValue(0)
	}
}

// EvalBExpr evaluates a boolean expression. && and || short-circuit.
// Equality compares Int/String/Bool by value, Object by reference
// identity, and any other mismatched pair (notably Int(0) vs Object) as
// unequal. Ordering operators coerce both sides to integers.
func EvalBExpr(b BExpr, env *Environment, ctx *EvalContext) bool {
	switch x := b.(type) {
	case *CompareExpr:
		if x.Op == "==" || x.Op == "!=" {
			eq := valuesEqual(ToValue(x.Left, env, ctx), ToValue(x.Right, env, ctx))
			if x.Op == "!=" {
				return !eq
			}
			return eq
		}
		l, r := ToInt(x.Left, env, ctx), ToInt(x.Right, env, ctx)
		switch x.Op {
		case ">":
			return l > r
		case "<":
			return l < r
		case ">=":
			return l >= r
		case "<=":
			return l <= r
		}
		return false
	case *AndExpr:
		return EvalBExpr(x.Left, env, ctx) && EvalBExpr(x.Right, env, ctx)
	case *OrExpr:
		return EvalBExpr(x.Left, env, ctx) || EvalBExpr(x.Right, env, ctx)
	}
	return false
}

func valuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case IntValue:
		bv, ok := b.(IntValue)
		return ok && av == bv
	case StringValue:
		bv, ok := b.(StringValue)
		return ok && av == bv
	case BoolValue:
		bv, ok := b.(BoolValue)
		return ok && av == bv
	case *ObjectValue:
		bv, ok := b.(*ObjectValue)
		return ok && av.Env == bv.Env
	default:
		return false
	}
}

// Exec executes a command list. It returns (value, true) the moment a
// Return is reached anywhere in the list (including inside a nested
// If/While body), which callers propagate upward; otherwise it returns
// (nil, false) after running every command.
func Exec(cmds []Command, env *Environment, ctx *EvalContext) (Value, bool) {
	for _, cmd := range cmds {
		if v, returned := execOne(cmd, env, ctx); returned {
			return v, true
		}
	}
	return nil, false
}

func execOne(cmd Command, env *Environment, ctx *EvalContext) (Value, bool) {
	switch c := cmd.(type) {
	case *ExprStmt:
		ToValue(c.X, env, ctx)
		return nil, false
	case *AssignStmt:
		execAssign(c, env, ctx)
		return nil, false
	case *IfStmt:
		if EvalBExpr(c.Cond, env, ctx) {
			return Exec(c.Then, env, ctx)
		}
		return Exec(c.Else, env, ctx)
	case *WhileStmt:
		for EvalBExpr(c.Cond, env, ctx) {
			if v, returned := Exec(c.Body, env, ctx); returned {
				return v, true
			}
		}
		return nil, false
	case *ForStmt:
		if c.Collection != "environment" {
			return nil, false
		}
		for _, ind := range ctx.Agents {
			env.Set(c.Var, &ObjectValue{Env: ind.Env})
			if v, returned := Exec(c.Body, env, ctx); returned {
				return v, true
			}
		}
		return nil, false
	case *ReturnStmt:
		return ToValue(c.X, env, ctx), true
	case *PrintStmt:
		execPrint(c, env, ctx)
		return nil, false
	case *SpawnStmt:
		execSpawn(c, env, ctx)
		return nil, false
	}
	return nil, false
}

func execAssign(c *AssignStmt, env *Environment, ctx *EvalContext) {
	val := ToValue(c.Value, env, ctx)
	switch target := c.Target.(type) {
	case *VarExpr:
		env.Set(target.Name, val)
	case *DotExpr:
		obj := ToValue(target.Object, env, ctx)
		if o, ok := obj.(*ObjectValue); ok {
			o.Env.Set(target.Field, val)
		}
	case *IndexExpr:
		lst := ToValue(target.Target, env, ctx)
		if l, ok := lst.(*ListValue); ok {
			idx := int(ToInt(target.Index, env, ctx))
			l.Set(idx, val)
		}
	}
}

func execPrint(c *PrintStmt, env *Environment, ctx *EvalContext) {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = Stringify(ToValue(a, env, ctx))
	}
	printLine(parts)
}

func execSpawn(c *SpawnStmt, env *Environment, ctx *EvalContext) {
	x := ToInt(c.X, env, ctx)
	y := ToInt(c.Y, env, ctx)
	ind := spawnIndividual(ctx.species(c.Species), c.Species, x, y, ctx)
	if ind == nil {
		return
	}
	*ctx.SpawnBuffer = append(*ctx.SpawnBuffer, ind)
}
