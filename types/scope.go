package types

// Scope is the coarsened classification of a Location relative to this
// process's identity.
type Scope string

const (
	ScopeOwn     Scope = "own"
	ScopeSwarm   Scope = "swarm"
	ScopeShared  Scope = "shared"
	ScopeCluster Scope = "cluster"
)

// Identity is this process's own coordinates, used to classify any
// Location's Scope and to compute proximity scores between locations.
type Identity struct {
	Gateway    string
	Host       string
	SwarmPath  string
	SharedPool string
}

// ComputeScope classifies loc relative to id:
//   - own: same gateway, same host, same swarm path.
//   - swarm: same gateway, same host, different swarm path.
//   - shared: same gateway, loc.Path is the configured shared pool.
//   - cluster: different gateway.
func (id Identity) ComputeScope(loc Location) Scope {
	if loc.Gateway != id.Gateway {
		return ScopeCluster
	}

	if loc.Host != id.Host {
		// Same gateway, different host: the only same-gateway, different-host
		// case this model names is the site-shared pool.
		if id.SharedPool != "" && loc.Path == id.SharedPool {
			return ScopeShared
		}

		return ScopeCluster
	}

	if loc.Path == id.SwarmPath {
		return ScopeOwn
	}

	if id.SharedPool != "" && loc.Path == id.SharedPool {
		return ScopeShared
	}

	return ScopeSwarm
}

// ProximityScore implements the sourced backend's source-ordering rule
// (spec §4.4 step 1): +1000 same gateway, +100 same host, +10 matching
// swarm path, +1 otherwise. Higher is closer.
func (id Identity) ProximityScore(loc Location) int {
	var score int

	if loc.Gateway == id.Gateway {
		score += 1000
	}

	if loc.Host == id.Host {
		score += 100
	}

	if loc.Path == id.SwarmPath {
		score += 10
	} else {
		score += 1
	}

	return score
}

// ScopeSet is a permitted set of Scopes, parsed from the "pool_scope"
// parameter.
type ScopeSet map[Scope]bool

func ParseScopeSet(fields []string) ScopeSet {
	set := make(ScopeSet, len(fields))

	for _, f := range fields {
		set[Scope(f)] = true
	}

	return set
}

func (s ScopeSet) Permits(scope Scope) bool {
	return s[scope]
}
