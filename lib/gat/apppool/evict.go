package apppool

// evictVictim picks the process to retire when the fleet is full and needy
// wants a slot: a strictly idle process from the group with the largest idle
// share, the least recently used one on a tie. Pure so the policy is
// testable without spawning anything.
func evictVictim(groups map[string]*Group, needy *Group) *Process {
	var victim *Process
	var victimRatio float64

	for _, g := range groups {
		if g == needy || len(g.idle) == 0 {
			continue
		}

		ratio := float64(len(g.idle)) / float64(len(g.procs))

		lru := g.idle[0]
		for _, p := range g.idle[1:] {
			if p.lastUsed.Before(lru.lastUsed) {
				lru = p
			}
		}

		if victim == nil ||
			ratio > victimRatio ||
			(ratio == victimRatio && lru.lastUsed.Before(victim.lastUsed)) {
			victim = lru
			victimRatio = ratio
		}
	}

	return victim
}
