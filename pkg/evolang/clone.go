package evolang

// deepCloneIndividuals replicates every key in every agent's store into
// a fresh Environment, rewriting any Object reference that points at
// one of the agents being cloned in this same batch so it points at the
// clone instead (this is what keeps a "self" pointer self-referential
// after cloning). References to agents outside this batch are left
// pointing at the originals; history frames hold those originals too,
// so nothing dangles. Used for per-tick history snapshots and for the
// frozen world view Mutate hands to the mutation rule body.
func deepCloneIndividuals(agents []*Individual) []*Individual {
	envMap := make(map[*Environment]*Environment, len(agents))
	clones := make([]*Individual, len(agents))
	for i, a := range agents {
		newEnv := NewEnvironment()
		envMap[a.Env] = newEnv
		clones[i] = &Individual{ID: a.ID, Species: a.Species, Env: newEnv}
	}
	for i, a := range agents {
		for _, key := range a.Env.Keys() {
			v, _ := a.Env.Get(key)
			clones[i].Env.Set(key, deepCloneValue(v, envMap))
		}
	}
	return clones
}

func deepCloneValue(v Value, envMap map[*Environment]*Environment) Value {
	switch t := v.(type) {
	case *ObjectValue:
		if newEnv, ok := envMap[t.Env]; ok {
			return &ObjectValue{Env: newEnv}
		}
		return t
	case *ListValue:
		items := t.Snapshot()
		out := make([]Value, len(items))
		for i, it := range items {
			out[i] = deepCloneValue(it, envMap)
		}
		return NewList(out...)
	default:
		return v
	}
}

// schemaRestrictedClone copies only x, y, species, and the properties
// declared on sp's default-property table — deliberately dropping any
// transient working variable an agent picked up at runtime. Used for
// offspring creation and for the individuals retained in a
// GenerationSnapshot. The clone's "self" key is left unset; callers
// that need a live self-pointer set it explicitly once the clone is
// placed into its destination world.
//
// No "fitness" key is forced onto the clone: it carries over only when
// the species happens to declare fitness as a property.
//
// List values are copied element by element, so the clone shares no
// list with its original; Object references are copied as they are.
func schemaRestrictedClone(sp *SpeciesDef, original *Individual) *Individual {
	clone := NewIndividual(original.Species)
	clone.Env.Set("species", StringValue(original.Species))

	if x, ok := original.Env.Get("x"); ok {
		clone.Env.Set("x", x)
	}
	if y, ok := original.Env.Get("y"); ok {
		clone.Env.Set("y", y)
	}

	if sp != nil {
		for _, pd := range sp.Properties {
			if v, ok := original.Env.Get(pd.Name); ok {
				clone.Env.Set(pd.Name, deepCloneValue(v, nil))
			}
		}
	} else {
		// Unknown species: fall back to a full copy rather than
		// silently dropping every property.
		for _, key := range original.Env.Keys() {
			if key == "self" {
				continue
			}
			v, _ := original.Env.Get(key)
			clone.Env.Set(key, deepCloneValue(v, nil))
		}
	}

	return clone
}

// schemaRestrictedCloneAll clones a full agent list for snapshot or
// offspring purposes, looking up each agent's species definition from
// prog.
func schemaRestrictedCloneAll(prog *Program, agents []*Individual) []*Individual {
	out := make([]*Individual, len(agents))
	for i, a := range agents {
		out[i] = schemaRestrictedClone(prog.Species[a.Species], a)
	}
	return out
}
