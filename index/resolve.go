package index

// Resolution is the outcome of picking an index for a set of bound fields.
type Resolution struct {
	Index Definition
	// Score is the number of consecutive leading PK terms bound.
	Score int
	// Full is true when every PK term is bound.
	Full bool
	// Unresolved is true when no index has its first PK term bound. Index
	// is then the primary index.
	Unresolved bool
}

// Resolve picks the index to serve a filter whose equality-bound fields
// are bound.
//
// Indexes are scored by how many leading PK terms are bound. A fully bound
// index beats any partial one, then the higher score wins, then the first
// declared. When nothing binds, the primary index is returned with
// Unresolved set.
func (c *Catalog) Resolve(bound []string) Resolution {
	set := make(map[FieldRef]bool, len(bound))
	for _, f := range bound {
		set[FieldRef(f).Normalize()] = true
	}

	best := -1
	var bestRes Resolution
	for i, def := range c.indexes {
		score := 0
		for _, ref := range def.PK {
			if !set[ref] {
				break
			}
			score++
		}
		if score == 0 {
			continue
		}
		full := score == len(def.PK)
		if best < 0 || better(full, score, bestRes.Full, bestRes.Score) {
			best = i
			bestRes = Resolution{Index: def, Score: score, Full: full}
		}
	}

	if best < 0 {
		return Resolution{Index: c.indexes[0].clone(), Unresolved: true}
	}
	bestRes.Index = bestRes.Index.clone()
	return bestRes
}

func better(full bool, score int, bestFull bool, bestScore int) bool {
	if full != bestFull {
		return full
	}
	return score > bestScore
}
