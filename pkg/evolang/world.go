package evolang

import (
	"math/rand"

	"github.com/google/uuid"
)

// Individual pairs a species tag with a shared-mutable Environment. The
// reserved keys its store is expected to carry are x, y, species, self,
// and fitness; species properties add further keys.
type Individual struct {
	ID      string
	Species string
	Env     *Environment
}

// NewIndividual allocates an Individual with a fresh empty Environment.
func NewIndividual(species string) *Individual {
	return &Individual{ID: uuid.NewString(), Species: species, Env: NewEnvironment()}
}

// spawnIndividual builds one agent: species first, then each declared
// default property evaluated in declaration order against the new
// environment (later properties may reference earlier ones), then x
// and y set last, so a species that declares its own x/y defaults has
// them unconditionally overwritten by the spawn call's coordinates.
func spawnIndividual(sp *SpeciesDef, speciesName string, x, y int32, ctx *EvalContext) *Individual {
	ind := NewIndividual(speciesName)
	ind.Env.Set("species", StringValue(speciesName))
	if sp != nil {
		for _, pd := range sp.Properties {
			ind.Env.Set(pd.Name, ToValue(pd.Expr, ind.Env, ctx))
		}
	}
	ind.Env.Set("x", IntValue(x))
	ind.Env.Set("y", IntValue(y))
	return ind
}

// World is one simulation instance: a population of agents sharing
// world dimensions, a generation index, the last-computed fitness, and
// an optional per-tick history for retrospective visualization.
type World struct {
	ID         string
	Program    *Program
	Rng        *rand.Rand
	Generation int32
	Agents     []*Individual
	Fitness    int32

	HistoryEnabled bool
	History        [][]*Individual
}

// NewWorld allocates an empty, unspawned world.
func NewWorld(prog *Program, rng *rand.Rand) *World {
	return &World{ID: uuid.NewString(), Program: prog, Rng: rng}
}

func buildGridCache(agents []*Individual, width, height int32) map[[2]int32]*Individual {
	cache := make(map[[2]int32]*Individual, len(agents))
	for _, ind := range agents {
		x, _ := ind.Env.Get("x")
		y, _ := ind.Env.Get("y")
		key := [2]int32{mod(ToInt32(x), width), mod(ToInt32(y), height)}
		cache[key] = ind // last writer wins; the cache is advisory only
	}
	return cache
}

func (w *World) newContext(agents []*Individual) *EvalContext {
	var drawBuf []DrawCommand
	var spawnBuf []*Individual
	return &EvalContext{
		Width:       w.Program.Env.Width,
		Height:      w.Program.Env.Height,
		Agents:      agents,
		GridCache:   buildGridCache(agents, w.Program.Env.Width, w.Program.Env.Height),
		DrawBuffer:  &drawBuf,
		SpawnBuffer: &spawnBuf,
		Rng:         w.Rng,
		Program:     w.Program,
	}
}

// Spawn runs the program's SPAWN block once against a fresh anonymous
// environment with an empty spawn buffer, then extends the world's
// agent list with whatever that run buffered.
func (w *World) Spawn() {
	env := NewEnvironment()
	ctx := w.newContext(w.Agents)
	Exec(w.Program.Spawn, env, ctx)
	w.Agents = append(w.Agents, *ctx.SpawnBuffer...)
}

// Step advances the world by one tick: optionally snapshots history,
// builds a fresh grid cache, runs every agent's species routine in
// insertion order with self bound to itself, then drains newly spawned
// agents into the live list.
func (w *World) Step() {
	if w.HistoryEnabled {
		w.History = append(w.History, deepCloneIndividuals(w.Agents))
	}

	ctx := w.newContext(w.Agents)

	for _, agent := range w.Agents {
		sp := w.Program.Species[agent.Species]
		if sp == nil || sp.Routine == "" {
			continue
		}
		routine := w.Program.Routines[sp.Routine]
		if routine == nil {
			continue
		}
		agent.Env.Set("self", &ObjectValue{Env: agent.Env})
		Exec(routine.Body, agent.Env, ctx)
	}

	w.Agents = append(w.Agents, *ctx.SpawnBuffer...)
}

// CalculateTotalFitness runs the FITNESS block against every agent (self
// bound to that agent), records each agent's score under its "fitness"
// key, and sets the world's own Fitness to the best score seen. The
// best score is seeded at 0 and only ever raised: a world's reported
// fitness never goes negative, even when every agent scores below zero.
func (w *World) CalculateTotalFitness() int32 {
	ctx := w.newContext(w.Agents)
	var best int32

	for _, agent := range w.Agents {
		agent.Env.Set("self", &ObjectValue{Env: agent.Env})
		var score int32
		if v, returned := Exec(w.Program.Fitness, agent.Env, ctx); returned {
			score = ToInt32(v)
		} else if sv, ok := agent.Env.Get("score"); ok {
			if s := ToInt32(sv); s != 0 {
				score = s
			}
		}
		agent.Env.Set("fitness", IntValue(score))
		if score > best {
			best = score
		}
	}

	w.Fitness = best
	return best
}

// Mutate applies the MUTATE block's "mutation" rule (if any) to every
// agent, gated per-agent by the rule's probability. The world view
// passed to the rule body is a frozen clone of every agent's current
// state, so one agent's mutation never observes another's mutation
// happening in the same tick.
func (w *World) Mutate() {
	var rule *MutationRule
	for i := range w.Program.Mutations {
		if w.Program.Mutations[i].Action == "mutation" {
			rule = &w.Program.Mutations[i]
			break
		}
	}
	if rule == nil {
		return
	}

	frozen := deepCloneIndividuals(w.Agents)
	ctx := w.newContext(frozen)

	for _, agent := range w.Agents {
		if w.Rng.Float64() >= rule.Probability {
			continue
		}
		agent.Env.Set("self", &ObjectValue{Env: agent.Env})
		Exec(rule.Body, agent.Env, ctx)
	}
}

// ClearHistory discards the world's step history without tearing down
// the agents it references (agents may still be live).
func (w *World) ClearHistory() {
	w.History = nil
}

// TeardownAgents clears every agent's store, breaking self-pointer and
// cross-agent reference cycles before the world is discarded.
func (w *World) TeardownAgents() {
	for _, a := range w.Agents {
		a.Env.Clear()
	}
}
