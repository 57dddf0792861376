package identity

import "github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"

// Matcher decides whether an observation describes an existing client.
type Matcher interface {
	Match(existing types.Client, obs types.Observation) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(existing types.Client, obs types.Observation) bool

func (f MatcherFunc) Match(existing types.Client, obs types.Observation) bool {
	return f(existing, obs)
}

// StrongIDMatcher matches on any shared strong identifier: an equal
// hardware serial, an equal pairing token, or the same local id on the
// same platform.
type StrongIDMatcher struct{}

func (StrongIDMatcher) Match(existing types.Client, obs types.Observation) bool {
	if obs.Serial != "" && obs.Serial == existing.Serial {
		return true
	}
	if obs.Token != "" && obs.Token == existing.Token {
		return true
	}
	if ident, ok := existing.Identifier(obs.PlatformID); ok && obs.LocalID != "" && ident.ID == obs.LocalID {
		return true
	}
	return false
}
