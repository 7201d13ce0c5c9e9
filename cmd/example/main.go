// This example shows how to drive the evolang interpreter end to end:
// parse a program, validate it, seed the world instances, and run the
// generational loop, printing a summary of each generation.
package main

import (
	"fmt"
	"os"

	"github.com/gitrdm/evolang/pkg/evolang"
)

const program = `
// Foragers drift toward the food line at y = 10 and are scored by how
// much energy they end the run with.
ENVIRONMENT { width: 30, height: 30, steps: 8 }

SPECIES {
	ROUTINE forage {
		if (self.y < 10) {
			self.y = self.y + 1
		} else if (self.y > 10) {
			self.y = self.y - 1
		} else {
			self.energy = self.energy + 5
		}
		self.x = self.x + random(0, 3) - 1
	}
	Forager { energy: 10, routine: forage }
}

EVOLVE { generations: 5, instances: 8 }

FITNESS { return self.energy }

MUTATE {
	mutation: { self.energy = self.energy + random(0, 4) - 2 },
	crossover: { child.energy = (parent1.energy + parent2.energy) / 2 }
}

SPAWN {
	spawn Forager at (random(0, 30), random(0, 30));
	spawn Forager at (random(0, 30), random(0, 30));
	spawn Forager at (random(0, 30), random(0, 30))
}

VISUALIZE {
	for a in environment {
		draw_circle(a.x, a.y, 1, 0, 200, 0)
	}
}
`

func main() {
	fmt.Println("=== Evolang Example ===")
	fmt.Println()

	prog, err := evolang.Parse(program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if errs := evolang.Validate(prog); len(errs) > 0 {
		hard := false
		fmt.Println("Semantic Errors found:")
		for _, e := range errs {
			fmt.Printf("  - %s\n", e.Msg)
			if !e.Note {
				hard = true
			}
		}
		if hard {
			os.Exit(1)
		}
	}

	engine := evolang.NewEngine(prog, evolang.EngineConfig{Seed: 2024})
	worlds := engine.SeedWorlds(0)
	fmt.Printf("Seeded %d worlds, %d agents each\n\n", len(worlds), len(worlds[0].Agents))

	snaps := engine.Run(worlds)

	fmt.Println()
	best := snaps[len(snaps)-1]
	fmt.Printf("Final generation: best %d, avg %.2f, %d agents retained\n",
		best.BestFitness, best.AvgFitness, len(best.Individuals))

	// A GUI shell would flush these to pixels; here we just show that
	// the final frame produces one draw command per agent.
	frame := best.StepHistory[len(best.StepHistory)-1]
	cmds := engine.VisualizeFrame(frame)
	fmt.Printf("Visualization of the final frame emits %d draw commands\n", len(cmds))
}
