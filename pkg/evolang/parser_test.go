package evolang

import (
	"fmt"
	"sort"
	"strings"
	"testing"
)

func mustParse(t *testing.T, source string) *Program {
	t.Helper()
	prog, err := Parse(source)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return prog
}

// printProgram renders a Program back to concrete syntax. It exists for
// the round-trip test only: parse → printProgram → parse must reach a
// printer fixpoint for every accepted program. Map-backed sections are
// emitted in sorted order so the rendering is deterministic.
func printProgram(p *Program) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ENVIRONMENT { width: %d, height: %d, steps: %d }\n",
		p.Env.Width, p.Env.Height, p.Env.Steps)

	sb.WriteString("SPECIES {\n")
	for _, name := range sortedKeys(p.Routines) {
		fmt.Fprintf(&sb, "ROUTINE %s { %s }\n", name, printBlock(p.Routines[name].Body))
	}
	for _, name := range sortedKeys(p.Species) {
		sp := p.Species[name]
		var entries []string
		for _, pd := range sp.Properties {
			entries = append(entries, fmt.Sprintf("%s: %s", pd.Name, pd.Expr))
		}
		if sp.Routine != "" {
			entries = append(entries, "routine: "+sp.Routine)
		}
		fmt.Fprintf(&sb, "%s { %s },\n", name, strings.Join(entries, ", "))
	}
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "EVOLVE { generations: %d, instances: %d }\n",
		p.Evolve.Generations, p.Evolve.Instances)
	fmt.Fprintf(&sb, "FITNESS { %s }\n", printBlock(p.Fitness))

	sb.WriteString("MUTATE {\n")
	for _, rule := range p.Mutations {
		fmt.Fprintf(&sb, "%s: { %s },\n", rule.Action, printBlock(rule.Body))
	}
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "SPAWN { %s }\n", printBlock(p.Spawn))
	if p.VisualizeActive {
		fmt.Fprintf(&sb, "VISUALIZE { %s }\n", printBlock(p.Visualize))
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const smokeProgram = `
ENVIRONMENT { width: 5, height: 5, steps: 1 }
SPECIES {
	ROUTINE walk { self.x = self.x + 1 }
	Ant { x: 0, y: 0, routine: walk }
}
EVOLVE { generations: 1, instances: 1 }
FITNESS { return self.x }
MUTATE {}
SPAWN { spawn Ant at (0, 0) }
`

// TestParseSmoke tests that the reference smoke program parses into the
// expected structure.
func TestParseSmoke(t *testing.T) {
	prog := mustParse(t, smokeProgram)

	if prog.Env.Width != 5 || prog.Env.Height != 5 || prog.Env.Steps != 1 {
		t.Errorf("Unexpected environment config: %+v", prog.Env)
	}
	if prog.Evolve.Generations != 1 || prog.Evolve.Instances != 1 {
		t.Errorf("Unexpected evolve config: %+v", prog.Evolve)
	}

	ant := prog.Species["Ant"]
	if ant == nil {
		t.Fatal("Species Ant not parsed")
	}
	if ant.Routine != "walk" {
		t.Errorf("Expected routine walk, got %q", ant.Routine)
	}
	if len(ant.Properties) != 2 || ant.Properties[0].Name != "x" || ant.Properties[1].Name != "y" {
		t.Errorf("Expected ordered properties [x y], got %+v", ant.Properties)
	}

	walk := prog.Routines["walk"]
	if walk == nil || len(walk.Body) != 1 {
		t.Fatalf("Routine walk not parsed correctly: %+v", walk)
	}
	if _, ok := walk.Body[0].(*AssignStmt); !ok {
		t.Errorf("Expected assignment in walk body, got %T", walk.Body[0])
	}

	if len(prog.Spawn) != 1 {
		t.Fatalf("Expected 1 spawn command, got %d", len(prog.Spawn))
	}
	spawn, ok := prog.Spawn[0].(*SpawnStmt)
	if !ok || spawn.Species != "Ant" {
		t.Errorf("Expected spawn Ant, got %+v", prog.Spawn[0])
	}
}

// TestParseDefaults tests the ENVIRONMENT and EVOLVE block defaults.
func TestParseDefaults(t *testing.T) {
	prog := mustParse(t, `
		ENVIRONMENT {}
		SPECIES {}
		EVOLVE {}
		FITNESS {}
		MUTATE {}
		SPAWN {}
	`)
	if prog.Env.Width != 50 || prog.Env.Height != 50 || prog.Env.Steps != 10 {
		t.Errorf("Expected 50/50/10 defaults, got %+v", prog.Env)
	}
	if prog.Evolve.Generations != 1 || prog.Evolve.Instances != 1 {
		t.Errorf("Expected 1/1 defaults, got %+v", prog.Evolve)
	}
	if prog.VisualizeActive {
		t.Error("Visualize should be inactive when the block is absent")
	}
}

// TestParseMissingBlocks tests that omitting any mandatory block fails
// with an error naming that block.
func TestParseMissingBlocks(t *testing.T) {
	blocks := map[string]string{
		"ENVIRONMENT": "ENVIRONMENT {}",
		"SPECIES":     "SPECIES {}",
		"EVOLVE":      "EVOLVE {}",
		"FITNESS":     "FITNESS {}",
		"MUTATE":      "MUTATE {}",
		"SPAWN":       "SPAWN {}",
	}
	for missing := range blocks {
		t.Run("Missing "+missing, func(t *testing.T) {
			var sb strings.Builder
			for name, src := range blocks {
				if name != missing {
					sb.WriteString(src)
					sb.WriteString("\n")
				}
			}
			_, err := Parse(sb.String())
			if err == nil {
				t.Fatalf("Expected parse error for missing %s block", missing)
			}
			if !strings.Contains(err.Error(), missing) {
				t.Errorf("Error %q does not name the missing %s block", err, missing)
			}
		})
	}
}

// TestParseExpressions tests operator precedence and the primary forms.
func TestParseExpressions(t *testing.T) {
	parseExprIn := func(t *testing.T, expr string) Expr {
		t.Helper()
		prog := mustParse(t, `
			ENVIRONMENT {} SPECIES {} EVOLVE {} MUTATE {} SPAWN {}
			FITNESS { return `+expr+` }
		`)
		ret, ok := prog.Fitness[0].(*ReturnStmt)
		if !ok {
			t.Fatalf("Expected return statement, got %T", prog.Fitness[0])
		}
		return ret.X
	}

	cases := []struct {
		expr string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 * 2 + 3", "((1 * 2) + 3)"},
		{"10 - 4 - 3", "((10 - 4) - 3)"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"-x", "(0 - x)"},
		{"a % 2", "(a % 2)"},
		{"self.x + 1", "(self.x + 1)"},
		{"environment[3][4]", "environment[3][4]"},
		{"[1, 2, 3]", "[1, 2, 3]"},
		{"random(0, 10)", "random(0, 10)"},
		{"get_at(x, y).species", "get_at(x, y).species"},
		{`"hello"`, `"hello"`},
		{"true", "true"},
		{"l[0] + l[1]", "(l[0] + l[1])"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got := parseExprIn(t, tc.expr).String()
			if got != tc.want {
				t.Errorf("Parsed %q as %q, want %q", tc.expr, got, tc.want)
			}
		})
	}
}

// TestParseCommands tests the command forms.
func TestParseCommands(t *testing.T) {
	parseCmds := func(t *testing.T, body string) []Command {
		t.Helper()
		prog := mustParse(t, `
			ENVIRONMENT {} SPECIES {} EVOLVE {} MUTATE {} SPAWN {}
			FITNESS { `+body+` }
		`)
		return prog.Fitness
	}

	t.Run("If else-if chain", func(t *testing.T) {
		cmds := parseCmds(t, `
			if (x > 0) { y = 1 } else if (x < 0) { y = 2 } else { y = 3 }
		`)
		ifStmt, ok := cmds[0].(*IfStmt)
		if !ok {
			t.Fatalf("Expected IfStmt, got %T", cmds[0])
		}
		if len(ifStmt.Else) != 1 {
			t.Fatalf("Expected single else-if command, got %d", len(ifStmt.Else))
		}
		nested, ok := ifStmt.Else[0].(*IfStmt)
		if !ok {
			t.Fatalf("Expected nested IfStmt in else, got %T", ifStmt.Else[0])
		}
		if nested.Else == nil {
			t.Error("Expected final else branch on nested if")
		}
	})

	t.Run("While and for", func(t *testing.T) {
		cmds := parseCmds(t, `
			while (i < 10) { i = i + 1 }
			for a in environment { a.seen = 1 }
		`)
		if _, ok := cmds[0].(*WhileStmt); !ok {
			t.Errorf("Expected WhileStmt, got %T", cmds[0])
		}
		forStmt, ok := cmds[1].(*ForStmt)
		if !ok {
			t.Fatalf("Expected ForStmt, got %T", cmds[1])
		}
		if forStmt.Var != "a" || forStmt.Collection != "environment" {
			t.Errorf("Unexpected for loop: %+v", forStmt)
		}
	})

	t.Run("Assignment targets", func(t *testing.T) {
		cmds := parseCmds(t, `
			x = 1;
			self.energy = 2;
			l[0] = 3;
		`)
		if _, ok := cmds[0].(*AssignStmt).Target.(*VarExpr); !ok {
			t.Error("Expected variable assignment target")
		}
		if _, ok := cmds[1].(*AssignStmt).Target.(*DotExpr); !ok {
			t.Error("Expected field assignment target")
		}
		if _, ok := cmds[2].(*AssignStmt).Target.(*IndexExpr); !ok {
			t.Error("Expected index assignment target")
		}
	})

	t.Run("Trailing semicolons are optional", func(t *testing.T) {
		withSemi := parseCmds(t, "x = 1; print(x);")
		without := parseCmds(t, "x = 1 print(x)")
		if len(withSemi) != 2 || len(without) != 2 {
			t.Errorf("Expected 2 commands each, got %d and %d", len(withSemi), len(without))
		}
	})

	t.Run("Boolean operators short-circuit shape", func(t *testing.T) {
		cmds := parseCmds(t, "if (a > 0 && b > 0 || c > 0) { x = 1 }")
		cond := cmds[0].(*IfStmt).Cond
		or, ok := cond.(*OrExpr)
		if !ok {
			t.Fatalf("Expected || at top (lower precedence), got %T", cond)
		}
		if _, ok := or.Left.(*AndExpr); !ok {
			t.Errorf("Expected && on the left of ||, got %T", or.Left)
		}
	})
}

// TestParseMutateRules tests MUTATE block rule parsing.
func TestParseMutateRules(t *testing.T) {
	prog := mustParse(t, `
		ENVIRONMENT {} SPECIES {} EVOLVE {} FITNESS {} SPAWN {}
		MUTATE {
			mutation: { self.x = self.x + 1 },
			crossover: { child.x = parent2.x },
			ignored_action: { x = 1 }
		}
	`)
	if len(prog.Mutations) != 3 {
		t.Fatalf("Expected 3 mutation rules, got %d", len(prog.Mutations))
	}
	for _, rule := range prog.Mutations {
		if rule.Probability != 1.0 {
			t.Errorf("Rule %s probability is %v, want 1.0", rule.Action, rule.Probability)
		}
	}
	if prog.Mutations[0].Action != "mutation" || prog.Mutations[1].Action != "crossover" {
		t.Errorf("Rule order not preserved: %+v", prog.Mutations)
	}
}

// TestParseRoundTrip tests that parse → pretty-print → parse reaches a
// printer fixpoint (structural equality modulo source positions).
func TestParseRoundTrip(t *testing.T) {
	sources := map[string]string{
		"smoke": smokeProgram,
		"rich": `
			ENVIRONMENT { width: 20, height: 30, steps: 5 }
			SPECIES {
				ROUTINE hunt {
					prey = get_at(self.x + 1, self.y);
					if (prey == 0) {
						self.x = random(0, width)
					} else if (dist(self, prey) < 3) {
						self.energy = self.energy + prey.energy
					} else {
						self.x = self.x + 1
					}
					while (self.energy > 100 && self.x < width) {
						self.energy = self.energy - 10
					}
				}
				ROUTINE graze {
					for other in environment {
						if (other.species == "Wolf") { self.fear = self.fear + 1 }
					}
					push(self.memory, self.x)
				}
				Wolf { energy: 50, memory: [0, 0], routine: hunt },
				Sheep { energy: 10 - 2 * 3, fear: 0, memory: [], routine: graze }
			}
			EVOLVE { generations: 4, instances: 8 }
			FITNESS {
				score = self.energy * 2;
				return score + len(self.memory)
			}
			MUTATE {
				mutation: { self.energy = self.energy + random(0 - 5, 5) },
				crossover: { child.energy = (parent1.energy + parent2.energy) / 2 }
			}
			SPAWN {
				spawn Wolf at (random(0, width), random(0, height));
				spawn Sheep at (3, 4)
			}
			VISUALIZE {
				for a in environment {
					draw_circle(a.x, a.y, 2, 255, 0, 0)
				}
				draw_line(0, 0, width, height);
				draw_rect(1, 1, 3, 3)
			}
		`,
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			first := mustParse(t, src)
			printed := printProgram(first)
			second, err := Parse(printed)
			if err != nil {
				t.Fatalf("Reparsing pretty-printed program failed: %v\n%s", err, printed)
			}
			reprinted := printProgram(second)
			if printed != reprinted {
				t.Errorf("Round-trip not a fixpoint.\nFirst:\n%s\nSecond:\n%s", printed, reprinted)
			}
		})
	}
}

// TestParseErrors tests position-carrying syntax errors.
func TestParseErrors(t *testing.T) {
	t.Run("Unterminated block", func(t *testing.T) {
		_, err := Parse("ENVIRONMENT { width: ")
		if err == nil {
			t.Fatal("Expected parse error")
		}
		if _, ok := err.(*ParseError); !ok {
			t.Errorf("Expected *ParseError, got %T", err)
		}
	})

	t.Run("Stray character yields a ParseError, not a panic", func(t *testing.T) {
		_, err := Parse("ENVIRONMENT { width: $")
		if err == nil {
			t.Fatal("Expected parse error")
		}
		if _, ok := err.(*ParseError); !ok {
			t.Errorf("Expected *ParseError, got %T", err)
		}

		_, err = Parse("a & b")
		if err == nil {
			t.Fatal("Expected parse error for program with only skipped lexemes")
		}
		if _, ok := err.(*ParseError); !ok {
			t.Errorf("Expected *ParseError, got %T", err)
		}
	})

	t.Run("Stray character inside a valid program is skipped", func(t *testing.T) {
		prog := mustParse(t, `
			ENVIRONMENT { width: 5 $ }
			SPECIES {} EVOLVE {} FITNESS {} MUTATE {} SPAWN {}
		`)
		if prog.Env.Width != 5 {
			t.Errorf("Expected width 5, got %d", prog.Env.Width)
		}
	})

	t.Run("Bad comparison operator", func(t *testing.T) {
		_, err := Parse(`
			ENVIRONMENT {} SPECIES {} EVOLVE {} MUTATE {} SPAWN {}
			FITNESS { if (x + 1) { y = 1 } }
		`)
		if err == nil {
			t.Fatal("Expected parse error for condition without comparison")
		}
	})
}
