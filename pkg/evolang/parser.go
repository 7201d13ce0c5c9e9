package evolang

import "fmt"

// ParseError reports a syntax error at a specific source position.
// Parsing aborts on the first error.
type ParseError struct {
	Line, Col int
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parse lexes and parses a complete program. All six mandatory blocks
// (ENVIRONMENT, SPECIES, EVOLVE, FITNESS, MUTATE, SPAWN) must be
// present exactly once: a missing block fails with a *ParseError naming
// it, and a repeated one fails with a *ParseError at the repeat.
func Parse(source string) (*Program, error) {
	p := &parser{tokens: Lex(source)}
	return p.parseProgram()
}

type parser struct {
	tokens []Token
	pos    int
}

// peek clamps to the stream's final token (the EOF sentinel), so a
// malformed stream surfaces as a ParseError rather than a panic.
func (p *parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	t := p.peek()
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	t := p.peek()
	return &ParseError{Line: t.Line, Col: t.Col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	if p.peek().Kind == kind {
		return p.advance(), nil
	}
	return Token{}, p.errorf("expected %s, found %s", kind, p.peek().Kind)
}

func (p *parser) parseProgram() (*Program, error) {
	prog := &Program{
		Env:      DefaultEnvironmentConfig(),
		Routines: make(map[string]*RoutineDef),
		Species:  make(map[string]*SpeciesDef),
		Evolve:   DefaultEvolveConfig(),
	}
	var foundEnv, foundSpecies, foundEvolve, foundFitness, foundMutate, foundSpawn bool
	seen := make(map[TokenKind]bool)

	for p.peek().Kind != TokEOF {
		switch k := p.peek().Kind; k {
		case TokEnvironment, TokSpecies, TokEvolve, TokFitness, TokMutate, TokSpawn:
			if seen[k] {
				return nil, p.errorf("duplicate %s block", k)
			}
			seen[k] = true
		}
		switch p.peek().Kind {
		case TokEnvironment:
			env, err := p.parseEnvBlock()
			if err != nil {
				return nil, err
			}
			prog.Env = env
			foundEnv = true
		case TokSpecies:
			if err := p.parseSpeciesBlock(prog); err != nil {
				return nil, err
			}
			foundSpecies = true
		case TokEvolve:
			evolve, err := p.parseEvolveBlock()
			if err != nil {
				return nil, err
			}
			prog.Evolve = evolve
			foundEvolve = true
		case TokFitness:
			p.advance()
			body, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			prog.Fitness = body
			foundFitness = true
		case TokMutate:
			rules, err := p.parseMutateBlock()
			if err != nil {
				return nil, err
			}
			prog.Mutations = rules
			foundMutate = true
		case TokVisualize:
			p.advance()
			body, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			prog.Visualize = body
			prog.VisualizeActive = true
		case TokSpawn:
			body, err := p.parseSpawnBlock()
			if err != nil {
				return nil, err
			}
			prog.Spawn = body
			foundSpawn = true
		default:
			p.advance()
		}
	}

	switch {
	case !foundEnv:
		return nil, p.missingBlockError("ENVIRONMENT")
	case !foundSpecies:
		return nil, p.missingBlockError("SPECIES")
	case !foundEvolve:
		return nil, p.missingBlockError("EVOLVE")
	case !foundFitness:
		return nil, p.missingBlockError("FITNESS")
	case !foundMutate:
		return nil, p.missingBlockError("MUTATE")
	case !foundSpawn:
		return nil, p.missingBlockError("SPAWN")
	}
	return prog, nil
}

func (p *parser) missingBlockError(name string) error {
	return &ParseError{Line: 0, Col: 0, Msg: fmt.Sprintf("missing obligatory %s block", name)}
}

func (p *parser) parseEnvBlock() (EnvironmentConfig, error) {
	if _, err := p.expect(TokEnvironment); err != nil {
		return EnvironmentConfig{}, err
	}
	if _, err := p.expect(TokLBrace); err != nil {
		return EnvironmentConfig{}, err
	}
	env := DefaultEnvironmentConfig()
	for p.peek().Kind != TokRBrace {
		if p.peek().Kind != TokIdent {
			return EnvironmentConfig{}, p.errorf("expected key in ENVIRONMENT block")
		}
		key := p.advance().Text
		if _, err := p.expect(TokColon); err != nil {
			return EnvironmentConfig{}, err
		}
		switch key {
		case "width":
			if tok, err := p.expect(TokNumber); err == nil {
				env.Width = tok.IntValue
			}
		case "height":
			if tok, err := p.expect(TokNumber); err == nil {
				env.Height = tok.IntValue
			}
		case "steps":
			if tok, err := p.expect(TokNumber); err == nil {
				env.Steps = tok.IntValue
			}
		default:
			p.advance()
		}
		if p.peek().Kind == TokComma {
			p.advance()
		}
	}
	if _, err := p.expect(TokRBrace); err != nil {
		return EnvironmentConfig{}, err
	}
	return env, nil
}

func (p *parser) parseEvolveBlock() (EvolveConfig, error) {
	if _, err := p.expect(TokEvolve); err != nil {
		return EvolveConfig{}, err
	}
	if _, err := p.expect(TokLBrace); err != nil {
		return EvolveConfig{}, err
	}
	evolve := DefaultEvolveConfig()
	for p.peek().Kind != TokRBrace {
		if p.peek().Kind != TokIdent {
			return EvolveConfig{}, p.errorf("expected key in EVOLVE block")
		}
		key := p.advance().Text
		if _, err := p.expect(TokColon); err != nil {
			return EvolveConfig{}, err
		}
		switch key {
		case "generations":
			if tok, err := p.expect(TokNumber); err == nil {
				evolve.Generations = tok.IntValue
			}
		case "instances":
			if tok, err := p.expect(TokNumber); err == nil {
				evolve.Instances = tok.IntValue
			}
		default:
			p.advance()
		}
		if p.peek().Kind == TokComma {
			p.advance()
		}
	}
	if _, err := p.expect(TokRBrace); err != nil {
		return EvolveConfig{}, err
	}
	return evolve, nil
}

func (p *parser) parseSpeciesBlock(prog *Program) error {
	if _, err := p.expect(TokSpecies); err != nil {
		return err
	}
	if _, err := p.expect(TokLBrace); err != nil {
		return err
	}
	for p.peek().Kind != TokRBrace {
		if p.peek().Kind == TokRoutine {
			routine, err := p.parseRoutineDef()
			if err != nil {
				return err
			}
			prog.Routines[routine.Name] = routine
			if p.peek().Kind == TokComma {
				p.advance()
			}
			continue
		}

		if p.peek().Kind != TokIdent {
			return p.errorf("expected species name")
		}
		name := p.advance().Text

		if _, err := p.expect(TokLBrace); err != nil {
			return err
		}
		def := &SpeciesDef{Name: name}
		for p.peek().Kind != TokRBrace {
			key, err := p.speciesPropertyKey()
			if err != nil {
				return err
			}
			if _, err := p.expect(TokColon); err != nil {
				return err
			}
			val, err := p.parseExpr()
			if err != nil {
				return err
			}
			if p.peek().Kind == TokSemicolon {
				p.advance()
			}
			if p.peek().Kind == TokComma {
				p.advance()
			}

			if key == "routine" {
				if v, ok := val.(*VarExpr); ok {
					def.Routine = v.Name
				}
			} else {
				def.Properties = append(def.Properties, PropertyDefault{Name: key, Expr: val})
			}
		}
		if _, err := p.expect(TokRBrace); err != nil {
			return err
		}
		prog.Species[name] = def
		if p.peek().Kind == TokComma {
			p.advance()
		}
	}
	return p.consumeRBrace()
}

func (p *parser) consumeRBrace() error {
	_, err := p.expect(TokRBrace)
	return err
}

func (p *parser) speciesPropertyKey() (string, error) {
	t := p.advance()
	if t.Kind == TokIdent {
		return t.Text, nil
	}
	if t.Kind == TokRoutine {
		return "routine", nil
	}
	return "", p.errorf("expected property key, found %s", t.Kind)
}

func (p *parser) parseRoutineDef() (*RoutineDef, error) {
	if _, err := p.expect(TokRoutine); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(TokIdent)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &RoutineDef{Name: nameTok.Text, Body: body}, nil
}

func (p *parser) parseSpawnBlock() ([]Command, error) {
	if _, err := p.expect(TokSpawn); err != nil {
		return nil, err
	}
	return p.parseBlock()
}

func (p *parser) parseMutateBlock() ([]MutationRule, error) {
	if _, err := p.expect(TokMutate); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLBrace); err != nil {
		return nil, err
	}
	var rules []MutationRule
	for p.peek().Kind != TokRBrace {
		if p.peek().Kind != TokIdent {
			return nil, p.errorf("expected mutation rule name")
		}
		key := p.advance().Text
		if _, err := p.expect(TokColon); err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		rules = append(rules, MutationRule{Action: key, Body: body, Probability: 1.0})
		if p.peek().Kind == TokComma {
			p.advance()
		}
	}
	return rules, p.consumeRBrace()
}

// parseBlock parses a brace-delimited command list.
func (p *parser) parseBlock() ([]Command, error) {
	if _, err := p.expect(TokLBrace); err != nil {
		return nil, err
	}
	var cmds []Command
	for p.peek().Kind != TokRBrace {
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, p.consumeRBrace()
}

func (p *parser) parseCommand() (Command, error) {
	line := p.peek().Line
	switch p.peek().Kind {
	case TokIf:
		return p.parseIf(line)
	case TokWhile:
		return p.parseWhile(line)
	case TokFor:
		return p.parseFor(line)
	case TokReturn:
		p.advance()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.consumeOptSemi()
		return &ReturnStmt{X: x, Line: line}, nil
	case TokPrint:
		return p.parsePrint(line)
	case TokSpawn:
		return p.parseSpawn(line)
	default:
		return p.parseAssignOrExprStmt(line)
	}
}

func (p *parser) consumeOptSemi() {
	if p.peek().Kind == TokSemicolon {
		p.advance()
	}
}

func (p *parser) parseIf(line int) (Command, error) {
	p.advance()
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseBExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var elseBlock []Command
	if p.peek().Kind == TokElse {
		p.advance()
		if p.peek().Kind == TokIf {
			elseIf, err := p.parseCommand()
			if err != nil {
				return nil, err
			}
			elseBlock = []Command{elseIf}
		} else {
			elseBlock, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
	}
	return &IfStmt{Cond: cond, Then: then, Else: elseBlock, Line: line}, nil
}

func (p *parser) parseWhile(line int) (Command, error) {
	p.advance()
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseBExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body, Line: line}, nil
}

func (p *parser) parseFor(line int) (Command, error) {
	p.advance()
	varTok, err := p.expect(TokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokIn); err != nil {
		return nil, err
	}
	var collection string
	switch p.peek().Kind {
	case TokIdent:
		collection = p.advance().Text
	case TokEnvironment:
		p.advance()
		collection = "environment"
	default:
		return nil, p.errorf("expected collection after 'in', found %s", p.peek().Kind)
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ForStmt{Var: varTok.Text, Collection: collection, Body: body, Line: line}, nil
}

func (p *parser) parsePrint(line int) (Command, error) {
	p.advance()
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	var args []Expr
	for p.peek().Kind != TokRParen {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.peek().Kind == TokComma {
			p.advance()
		}
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	p.consumeOptSemi()
	return &PrintStmt{Args: args, Line: line}, nil
}

func (p *parser) parseSpawn(line int) (Command, error) {
	p.advance()
	speciesTok, err := p.expect(TokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokAt); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokComma); err != nil {
		return nil, err
	}
	y, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	p.consumeOptSemi()
	return &SpawnStmt{Species: speciesTok.Text, X: x, Y: y, Line: line}, nil
}

func (p *parser) parseAssignOrExprStmt(line int) (Command, error) {
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind == TokAssign {
		p.advance()
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.consumeOptSemi()
		return &AssignStmt{Target: x, Value: value, Line: line}, nil
	}
	p.consumeOptSemi()
	return &ExprStmt{X: x, Line: line}, nil
}

// parseExpr is the lowest-precedence entry point: sum.
func (p *parser) parseExpr() (Expr, error) {
	return p.parseSum()
}

func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokPlus || p.peek().Kind == TokMinus {
		tok := p.advance()
		op := "+"
		if tok.Kind == TokMinus {
			op = "-"
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right, Line: tok.Line}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokStar || p.peek().Kind == TokSlash || p.peek().Kind == TokPercent {
		tok := p.advance()
		var op string
		switch tok.Kind {
		case TokStar:
			op = "*"
		case TokSlash:
			op = "/"
		case TokPercent:
			op = "%"
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right, Line: tok.Line}
	}
	return left, nil
}

func tokenToFieldName(t Token) (string, bool) {
	switch t.Kind {
	case TokIdent:
		return t.Text, true
	case TokSpecies:
		return "species", true
	case TokSpawn:
		return "spawn", true
	case TokRoutine:
		return "routine", true
	case TokFitness:
		return "fitness", true
	default:
		return "", false
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.peek().Kind == TokMinus {
		tok := p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		node := Expr(&BinaryExpr{
			Left:  &IntLit{Value: 0, Line: tok.Line},
			Op:    "-",
			Right: right,
			Line:  tok.Line,
		})
		return p.parseDotAndIndex(node)
	}

	t := p.advance()
	var node Expr
	switch t.Kind {
	case TokNumber:
		node = &IntLit{Value: t.IntValue, Line: t.Line}
	case TokString:
		node = &StringLit{Value: t.Text, Line: t.Line}
	case TokTrue:
		node = &BoolLit{Value: true, Line: t.Line}
	case TokFalse:
		node = &BoolLit{Value: false, Line: t.Line}
	case TokLBracket:
		var items []Expr
		for p.peek().Kind != TokRBracket {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, e)
			if p.peek().Kind == TokComma {
				p.advance()
			}
		}
		if _, err := p.expect(TokRBracket); err != nil {
			return nil, err
		}
		node = &ListLit{Items: items, Line: t.Line}
	case TokLParen:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		node = e
	case TokIdent, TokRandom, TokEnvironment:
		name := t.Text
		switch t.Kind {
		case TokRandom:
			name = "random"
		case TokEnvironment:
			name = "environment"
		}
		if p.peek().Kind == TokLParen {
			p.advance()
			var args []Expr
			for p.peek().Kind != TokRParen {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.peek().Kind == TokComma {
					p.advance()
				}
			}
			if _, err := p.expect(TokRParen); err != nil {
				return nil, err
			}
			node = &CallExpr{Name: name, Args: args, Line: t.Line}
		} else {
			node = &VarExpr{Name: name, Line: t.Line}
		}
	default:
		return nil, p.errorf("expected expression, found %s", t.Kind)
	}

	return p.parseDotAndIndex(node)
}

func (p *parser) parseDotAndIndex(node Expr) (Expr, error) {
	for p.peek().Kind == TokDot || p.peek().Kind == TokLBracket {
		tok := p.advance()
		if tok.Kind == TokDot {
			fieldTok := p.advance()
			field, ok := tokenToFieldName(fieldTok)
			if !ok {
				return nil, p.errorf("expected field name after '.', found %s", fieldTok.Kind)
			}
			node = &DotExpr{Object: node, Field: field, Line: tok.Line}
		} else {
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokRBracket); err != nil {
				return nil, err
			}
			node = &IndexExpr{Target: node, Index: idx, Line: tok.Line}
		}
	}
	return node, nil
}

func (p *parser) parseBExpr() (BExpr, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokOr {
		p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		left = &OrExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAndExpr() (BExpr, error) {
	left, err := p.parsePrimaryBExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokAnd {
		p.advance()
		right, err := p.parsePrimaryBExpr()
		if err != nil {
			return nil, err
		}
		left = &AndExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePrimaryBExpr() (BExpr, error) {
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	opTok := p.advance()
	var op string
	switch opTok.Kind {
	case TokGt:
		op = ">"
	case TokLt:
		op = "<"
	case TokGtEq:
		op = ">="
	case TokLtEq:
		op = "<="
	case TokEq:
		op = "=="
	case TokNotEq:
		op = "!="
	default:
		return nil, p.errorf("expected comparison operator, found %s", opTok.Kind)
	}
	right, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &CompareExpr{Left: left, Right: right, Op: op}, nil
}
