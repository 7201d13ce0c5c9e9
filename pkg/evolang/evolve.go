package evolang

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gitrdm/evolang/internal/parallel"
)

// MaxSnapshots caps the engine's retained generation log. On overflow
// the oldest snapshot is torn down and dropped.
const MaxSnapshots = 100

// GenerationSnapshot is the record retained for retrospective
// visualization of one completed generation: fitness statistics, the
// winning world's final individuals, and its full per-tick step
// history. Every Individual it holds is a schema-restricted clone, so
// the snapshot shares no Environment identity with any live world.
type GenerationSnapshot struct {
	ID          string
	Generation  int32
	AvgFitness  float64
	BestFitness int32
	Individuals []*Individual
	StepHistory [][]*Individual
}

// Teardown clears every Environment the snapshot holds, breaking any
// Object-in-List cycles before the snapshot is released.
func (s *GenerationSnapshot) Teardown() {
	for _, ind := range s.Individuals {
		ind.Env.Clear()
	}
	for _, frame := range s.StepHistory {
		for _, ind := range frame {
			ind.Env.Clear()
		}
	}
}

// EngineConfig holds the evolution engine's settings. A zero Seed
// selects a time-derived seed; a non-positive Workers count defaults to
// the host's parallelism.
type EngineConfig struct {
	Seed    int64
	Workers int
}

// DefaultEngineConfig returns the zero configuration: time-derived
// seed, host-parallelism worker pool.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{}
}

// Engine orchestrates the generational loop: N disjoint worlds stepped
// in parallel, ranked by fitness, then rebuilt by elitism + crossover +
// mutation, with explicit teardown of the retired generation's shared
// reference graphs.
type Engine struct {
	prog       *Program
	rng        *rand.Rand
	pool       *parallel.WorldPool
	generation int32
	snapshots  []*GenerationSnapshot
}

// NewEngine creates an engine for prog.
func NewEngine(prog *Program, cfg EngineConfig) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		prog: prog,
		rng:  rand.New(rand.NewSource(seed)),
		pool: parallel.NewWorldPool(cfg.Workers),
	}
}

// Snapshots returns the retained generation log, oldest first. Its
// length never exceeds MaxSnapshots.
func (e *Engine) Snapshots() []*GenerationSnapshot {
	return e.snapshots
}

// newWorldRng derives an independent per-world RNG from the engine's
// seed stream. Worlds step in parallel, so they must not share one
// rand.Rand; deriving each from the engine RNG keeps a fixed engine
// seed fully deterministic.
func (e *Engine) newWorldRng() *rand.Rand {
	return rand.New(rand.NewSource(e.rng.Int63()))
}

// SeedWorlds creates `instances` worlds and runs the program's SPAWN
// block once in each. A non-positive count falls back to the program's
// EVOLVE block. Worlds are spawned a single time, up front; generations
// thereafter reproduce from the previous population rather than
// re-spawning.
func (e *Engine) SeedWorlds(instances int) []*World {
	if instances <= 0 {
		instances = int(e.prog.Evolve.Instances)
	}
	if instances <= 0 {
		instances = 1
	}
	worlds := make([]*World, instances)
	for i := range worlds {
		w := NewWorld(e.prog, e.newWorldRng())
		w.Spawn()
		worlds[i] = w
	}
	return worlds
}

// Run executes the program's configured number of generations against
// worlds and returns the snapshot of each. The worlds slice is updated
// in place each generation.
func (e *Engine) Run(worlds []*World) []*GenerationSnapshot {
	out := make([]*GenerationSnapshot, 0, e.prog.Evolve.Generations)
	for g := int32(0); g < e.prog.Evolve.Generations; g++ {
		out = append(out, e.RunGeneration(worlds))
	}
	return out
}

// RunGeneration advances one full generation: every world steps the
// configured number of ticks in parallel and is scored, worlds are
// ranked, the winner's history is snapshotted, and the slice is
// replaced in place with the next generation built by elitism,
// crossover, and mutation. The retired generation's agent stores are
// explicitly cleared before release so that shared-reference cycles
// collapse.
func (e *Engine) RunGeneration(worlds []*World) *GenerationSnapshot {
	steps := int(e.prog.Env.Steps)
	genStart := time.Now()

	for _, w := range worlds {
		w.HistoryEnabled = true
		w.ClearHistory()
	}

	// Step loop and fitness, parallel across worlds. Each world's agent
	// graph is disjoint from every other world's, so no cross-world
	// locking is needed. One extra frame after the last step captures
	// the final state.
	e.pool.Run(len(worlds), func(i int) error {
		w := worlds[i]
		for s := 0; s < steps; s++ {
			w.Step()
		}
		w.History = append(w.History, deepCloneIndividuals(w.Agents))
		w.CalculateTotalFitness()
		return nil
	})

	sort.SliceStable(worlds, func(a, b int) bool {
		return worlds[a].Fitness > worlds[b].Fitness
	})

	winner := worlds[0]

	// Extract the winner's history through the schema-restricted clone,
	// then clear the original frames' stores: the frames are deep
	// clones whose self-pointers would otherwise keep every tick's
	// agent graph alive.
	stepHistory := make([][]*Individual, len(winner.History))
	for t, frame := range winner.History {
		stepHistory[t] = schemaRestrictedCloneAll(e.prog, frame)
		for _, ind := range frame {
			ind.Env.Clear()
		}
	}
	winner.History = nil
	for _, w := range worlds[1:] {
		w.ClearHistory()
	}

	var sum int64
	for _, w := range worlds {
		sum += int64(w.Fitness)
	}
	avg := float64(sum) / float64(len(worlds))
	best := winner.Fitness

	fmt.Fprintf(os.Stdout, "[Gen %d] Avg: %.2f, Best: %d (%v)\n",
		e.generation, avg, best, time.Since(genStart).Round(time.Millisecond))

	snap := &GenerationSnapshot{
		ID:          uuid.NewString(),
		Generation:  e.generation,
		AvgFitness:  avg,
		BestFitness: best,
		Individuals: schemaRestrictedCloneAll(e.prog, winner.Agents),
		StepHistory: stepHistory,
	}
	e.snapshots = append(e.snapshots, snap)
	if len(e.snapshots) > MaxSnapshots {
		e.snapshots[0].Teardown()
		e.snapshots = e.snapshots[1:]
	}

	children := e.createNextGeneration(worlds)

	// Retire the old generation: clearing every agent store breaks any
	// residual Object-in-List cycles that shared references would keep
	// alive past the generation boundary.
	for _, w := range worlds {
		w.TeardownAgents()
		w.ClearHistory()
	}
	copy(worlds, children)

	e.generation++
	return snap
}

// createNextGeneration builds the replacement population from the
// ranked worlds: keep = max(1, instances/2) elites serve as parents,
// child i clones parent i mod keep through the schema-restricted copy
// (transient runtime state is dropped), children past the elite band
// get the crossover rule applied, and every child is mutated.
func (e *Engine) createNextGeneration(worlds []*World) []*World {
	instances := len(worlds)
	keep := instances / 2
	if keep < 1 {
		keep = 1
	}

	children := make([]*World, instances)
	for i := 0; i < instances; i++ {
		parent := worlds[i%keep]
		child := NewWorld(e.prog, e.newWorldRng())
		child.Generation = parent.Generation + 1
		child.Agents = schemaRestrictedCloneAll(e.prog, parent.Agents)
		for _, a := range child.Agents {
			a.Env.Set("self", &ObjectValue{Env: a.Env})
		}
		children[i] = child
	}

	if rule := e.crossoverRule(); rule != nil {
		for i := keep; i < instances; i++ {
			e.applyCrossover(children[i], worlds[(i+1)%keep], rule)
		}
	}

	for _, child := range children {
		child.Mutate()
	}
	return children
}

func (e *Engine) crossoverRule() *MutationRule {
	for i := range e.prog.Mutations {
		if e.prog.Mutations[i].Action == "crossover" {
			return &e.prog.Mutations[i]
		}
	}
	return nil
}

// applyCrossover runs the crossover rule body once per agent index,
// against a scratch environment binding parent1, parent2, and child.
// The child starts as a clone of parent1, so parent1 and child alias
// the same store. The scratch store is cleared afterward to sever the
// back-references it holds into both generations.
func (e *Engine) applyCrossover(child *World, other *World, rule *MutationRule) {
	ctx := child.newContext(child.Agents)
	for j, agent := range child.Agents {
		if j >= len(other.Agents) {
			break
		}
		if e.rng.Float64() >= rule.Probability {
			continue
		}
		scratch := NewEnvironment()
		scratch.Set("parent1", &ObjectValue{Env: agent.Env})
		scratch.Set("parent2", &ObjectValue{Env: other.Agents[j].Env})
		scratch.Set("child", &ObjectValue{Env: agent.Env})
		Exec(rule.Body, scratch, ctx)
		scratch.Clear()
	}
}

// VisualizeFrame runs the program's VISUALIZE block against one
// snapshot frame and returns the draw commands it emitted. The caller
// (the GUI shell) owns the returned buffer; nothing is retained by the
// engine. Returns nil when the program has no VISUALIZE block.
//
// The visualization scope is the one place width and height are bound
// as runtime values; in every other context they are validator globals
// only and resolve like any other unbound name.
func (e *Engine) VisualizeFrame(frame []*Individual) []DrawCommand {
	if !e.prog.VisualizeActive {
		return nil
	}
	var drawBuf []DrawCommand
	var spawnBuf []*Individual
	ctx := &EvalContext{
		Width:       e.prog.Env.Width,
		Height:      e.prog.Env.Height,
		Agents:      frame,
		GridCache:   buildGridCache(frame, e.prog.Env.Width, e.prog.Env.Height),
		DrawBuffer:  &drawBuf,
		SpawnBuffer: &spawnBuf,
		Rng:         e.rng,
		Program:     e.prog,
	}
	env := NewEnvironment()
	env.Set("width", IntValue(e.prog.Env.Width))
	env.Set("height", IntValue(e.prog.Env.Height))
	Exec(e.prog.Visualize, env, ctx)
	env.Clear()
	return drawBuf
}
