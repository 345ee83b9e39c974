// Package compatibility provides schema compatibility checking.
package compatibility

// Mode names one of the seven compatibility levels a subject or context can
// enforce on registration.
type Mode string

const (
	// ModeNone disables compatibility checking entirely.
	ModeNone Mode = "NONE"
	// ModeBackward requires the new (reader) schema to read data written
	// under the immediately preceding (writer) schema.
	ModeBackward Mode = "BACKWARD"
	// ModeBackwardTransitive requires the new schema to read data written
	// under every preceding schema, not just the latest.
	ModeBackwardTransitive Mode = "BACKWARD_TRANSITIVE"
	// ModeForward requires the immediately preceding schema to read data
	// written under the new (writer) schema.
	ModeForward Mode = "FORWARD"
	// ModeForwardTransitive requires every preceding schema to read data
	// written under the new schema.
	ModeForwardTransitive Mode = "FORWARD_TRANSITIVE"
	// ModeFull requires both backward and forward compatibility against
	// the immediately preceding schema.
	ModeFull Mode = "FULL"
	// ModeFullTransitive requires both backward and forward compatibility
	// against every preceding schema.
	ModeFullTransitive Mode = "FULL_TRANSITIVE"
)

// modeTraits records, per mode, whether it spans the full version history
// (transitive) and which compatibility directions it obligates. Table-driven
// rather than duplicated switch statements per predicate.
type modeTraits struct {
	transitive bool
	backward   bool
	forward    bool
}

var modeTable = map[Mode]modeTraits{
	ModeNone:               {},
	ModeBackward:           {backward: true},
	ModeBackwardTransitive: {transitive: true, backward: true},
	ModeForward:            {forward: true},
	ModeForwardTransitive:  {transitive: true, forward: true},
	ModeFull:               {backward: true, forward: true},
	ModeFullTransitive:     {transitive: true, backward: true, forward: true},
}

// IsValid reports whether m is one of the seven recognized modes.
func (m Mode) IsValid() bool {
	_, ok := modeTable[m]
	return ok
}

// IsTransitive reports whether m must be checked against every prior
// version rather than only the latest.
func (m Mode) IsTransitive() bool {
	return modeTable[m].transitive
}

// RequiresBackward reports whether m obligates backward compatibility.
func (m Mode) RequiresBackward() bool {
	return modeTable[m].backward
}

// RequiresForward reports whether m obligates forward compatibility.
func (m Mode) RequiresForward() bool {
	return modeTable[m].forward
}

// ParseMode converts a wire-format string into a Mode, reporting whether it
// names one of the seven recognized levels.
func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	return m, m.IsValid()
}
