package types

import (
	"fmt"
	"strings"
)

// Location identifies a storage endpoint as "<gateway>/<host>:<path>". An
// empty gateway and host mean "local filesystem at path". A path prefixed
// with ';' selects symlink mode: the cache entry becomes a symbolic link to
// the pool path rather than a copy of it. A non-empty gateway or host
// selects remote SSH transport.
type Location struct {
	Gateway string
	Host    string
	Path    string
	Symlink bool
}

// ParseLocation parses the "<gateway>/<host>:<path>" grammar from spec §3.
func ParseLocation(s string) (Location, error) {
	gwRest := strings.SplitN(s, "/", 2)
	if len(gwRest) != 2 {
		return Location{}, fmt.Errorf("%w: malformed location %q, missing '/'", ErrInvalid, s)
	}

	hostPath := strings.SplitN(gwRest[1], ":", 2)
	if len(hostPath) != 2 {
		return Location{}, fmt.Errorf("%w: malformed location %q, missing ':'", ErrInvalid, s)
	}

	loc := Location{
		Gateway: gwRest[0],
		Host:    hostPath[0],
		Path:    hostPath[1],
	}

	if strings.HasPrefix(loc.Path, ";") {
		loc.Symlink = true
		loc.Path = strings.TrimPrefix(loc.Path, ";")
	}

	return loc, nil
}

func (l Location) String() string {
	path := l.Path
	if l.Symlink {
		path = ";" + path
	}

	return fmt.Sprintf("%s/%s:%s", l.Gateway, l.Host, path)
}

// IsLocal reports whether l names the local filesystem (no gateway, no
// host — the "own" location for this process, modulo swarm path
// comparison, see Identity.ComputeScope).
func (l Location) IsLocal() bool {
	return l.Gateway == "" && l.Host == ""
}

// IsRemote reports whether l must be reached over SSH transport.
func (l Location) IsRemote() bool {
	return l.Gateway != "" || l.Host != ""
}

// ParseLocations splits a whitespace-separated "<op>_location" parameter
// value into individual Location values, skipping anything that fails to
// parse rather than aborting the whole list (a single malformed pool
// location shouldn't take every other mirror down with it).
func ParseLocations(s string) []Location {
	var out []Location

	for _, tok := range strings.Fields(s) {
		if loc, err := ParseLocation(tok); err == nil {
			out = append(out, loc)
		}
	}

	return out
}
