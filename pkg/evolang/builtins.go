package evolang

import "math"

// evalCall dispatches a CallExpr to a built-in primitive. An unknown
// function name evaluates to Int(0) like every other soft failure;
// there is no user-defined-function lookup to fall back to.
func evalCall(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	switch c.Name {
	case "random":
		return builtinRandom(c, env, ctx)
	case "len":
		return builtinLen(c, env, ctx)
	case "push":
		return builtinPush(c, env, ctx)
	case "pop":
		return builtinPop(c, env, ctx)
	case "get_at":
		return builtinGetAt(c, env, ctx)
	case "dist":
		return builtinDist(c, env, ctx)
	case "draw_rect":
		return builtinDrawRect(c, env, ctx)
	case "draw_line":
		return builtinDrawLine(c, env, ctx)
	case "draw_circle":
		return builtinDrawCircle(c, env, ctx)
	default:
		return IntValue(0)
	}
}

func argOrDefault(args []Expr, idx int, def int32, env *Environment, ctx *EvalContext) int32 {
	if idx >= len(args) {
		return def
	}
	return ToInt(args[idx], env, ctx)
}

// builtinRandom returns a uniform integer in [a, b), or a if b <= a.
func builtinRandom(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	if len(c.Args) < 2 {
		return IntValue(0)
	}
	a := ToInt(c.Args[0], env, ctx)
	b := ToInt(c.Args[1], env, ctx)
	if b <= a {
		return IntValue(a)
	}
	return IntValue(a + int32(ctx.Rng.Intn(int(b-a))))
}

func builtinLen(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	if len(c.Args) < 1 {
		return IntValue(0)
	}
	if l, ok := ToValue(c.Args[0], env, ctx).(*ListValue); ok {
		return IntValue(int32(l.Len()))
	}
	return IntValue(0)
}

func builtinPush(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	if len(c.Args) < 2 {
		return IntValue(0)
	}
	if l, ok := ToValue(c.Args[0], env, ctx).(*ListValue); ok {
		l.Push(ToValue(c.Args[1], env, ctx))
	}
	return IntValue(0)
}

func builtinPop(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	if len(c.Args) < 1 {
		return IntValue(0)
	}
	if l, ok := ToValue(c.Args[0], env, ctx).(*ListValue); ok {
		if v, ok := l.Pop(); ok {
			return v
		}
	}
	return IntValue(0)
}

// builtinGetAt returns the agent at the exact (unwrapped) position
// (x, y), via the grid cache then a linear scan. No modulo wrap.
func builtinGetAt(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	if len(c.Args) < 2 {
		return IntValue(0)
	}
	x := ToInt(c.Args[0], env, ctx)
	y := ToInt(c.Args[1], env, ctx)
	if ind, ok := ctx.LookupExact(x, y); ok {
		return &ObjectValue{Env: ind.Env}
	}
	return IntValue(0)
}

// builtinDist returns the truncated Euclidean distance between two
// Objects' (x, y) positions.
func builtinDist(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	if len(c.Args) < 2 {
		return IntValue(0)
	}
	ax, ay, aok := objectXY(c.Args[0], env, ctx)
	bx, by, bok := objectXY(c.Args[1], env, ctx)
	if !aok || !bok {
		return IntValue(0)
	}
	dx := float64(bx - ax)
	dy := float64(by - ay)
	return IntValue(int32(math.Sqrt(dx*dx + dy*dy)))
}

func objectXY(e Expr, env *Environment, ctx *EvalContext) (int32, int32, bool) {
	obj, ok := ToValue(e, env, ctx).(*ObjectValue)
	if !ok {
		return 0, 0, false
	}
	x, _ := obj.Env.Get("x")
	y, _ := obj.Env.Get("y")
	return ToInt32(x), ToInt32(y), true
}

func builtinDrawRect(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	cmd := DrawRect{
		X: argOrDefault(c.Args, 0, 0, env, ctx),
		Y: argOrDefault(c.Args, 1, 0, env, ctx),
		W: argOrDefault(c.Args, 2, 0, env, ctx),
		H: argOrDefault(c.Args, 3, 0, env, ctx),
		R: argOrDefault(c.Args, 4, 255, env, ctx),
		G: argOrDefault(c.Args, 5, 255, env, ctx),
		B: argOrDefault(c.Args, 6, 255, env, ctx),
	}
	*ctx.DrawBuffer = append(*ctx.DrawBuffer, cmd)
	return IntValue(0)
}

func builtinDrawLine(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	cmd := DrawLine{
		X1:        argOrDefault(c.Args, 0, 0, env, ctx),
		Y1:        argOrDefault(c.Args, 1, 0, env, ctx),
		X2:        argOrDefault(c.Args, 2, 0, env, ctx),
		Y2:        argOrDefault(c.Args, 3, 0, env, ctx),
		R:         argOrDefault(c.Args, 4, 255, env, ctx),
		G:         argOrDefault(c.Args, 5, 255, env, ctx),
		B:         argOrDefault(c.Args, 6, 255, env, ctx),
		Thickness: argOrDefault(c.Args, 7, 1, env, ctx),
	}
	*ctx.DrawBuffer = append(*ctx.DrawBuffer, cmd)
	return IntValue(0)
}

func builtinDrawCircle(c *CallExpr, env *Environment, ctx *EvalContext) Value {
	cmd := DrawCircle{
		X:      argOrDefault(c.Args, 0, 0, env, ctx),
		Y:      argOrDefault(c.Args, 1, 0, env, ctx),
		Radius: argOrDefault(c.Args, 2, 0, env, ctx),
		R:      argOrDefault(c.Args, 3, 255, env, ctx),
		G:      argOrDefault(c.Args, 4, 255, env, ctx),
		B:      argOrDefault(c.Args, 5, 255, env, ctx),
	}
	*ctx.DrawBuffer = append(*ctx.DrawBuffer, cmd)
	return IntValue(0)
}
