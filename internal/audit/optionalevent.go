package audit

import "github.com/rs/zerolog"

// OptionalEvent is a zerolog dictionary that is only attached to its parent
// when at least one field was set. Zero values are skipped.
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
	}
	return oe.ev
}

// Set adds the dictionary to parent under key if anything was written.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if !oe.modified {
		return false
	}
	parent.Dict(key, oe.event())
	return true
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val == 0 {
		return oe
	}
	oe.event().Int(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Strs(key string, vals []string) *OptionalEvent {
	if len(vals) == 0 {
		return oe
	}
	oe.event().Strs(key, vals)
	oe.modified = true
	return oe
}
