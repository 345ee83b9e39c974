package compatibility

import (
	"github.com/nimbusreg/schemaregistry/internal/storage"
)

// SchemaWithRefs bundles a schema string with its resolved references so a
// type-specific checker can parse both reader and writer without a second
// round trip to storage.
type SchemaWithRefs struct {
	Schema     string
	References []storage.Reference
}

// SchemaChecker is implemented once per schema format (Avro, JSON Schema,
// Protobuf). Check reports whether data written under writer can be read
// back using reader.
type SchemaChecker interface {
	Check(reader, writer SchemaWithRefs) *Result
}

// direction names which side of a Check call plays "reader" for a given
// compatibility obligation.
type direction struct {
	label      string
	obligation func(Mode) bool
	readerIs   func(candidate, prior SchemaWithRefs) (reader, writer SchemaWithRefs)
}

var directions = []direction{
	{
		label:      "BACKWARD",
		obligation: Mode.RequiresBackward,
		readerIs: func(candidate, prior SchemaWithRefs) (SchemaWithRefs, SchemaWithRefs) {
			return candidate, prior
		},
	},
	{
		label:      "FORWARD",
		obligation: Mode.RequiresForward,
		readerIs: func(candidate, prior SchemaWithRefs) (SchemaWithRefs, SchemaWithRefs) {
			return prior, candidate
		},
	},
}

// Checker dispatches compatibility checks to the registered per-type
// SchemaChecker and applies the policy-engine semantics of Mode (C5):
// transitive modes walk the whole version history, directional modes
// (BACKWARD/FORWARD) swap which schema plays reader.
type Checker struct {
	byType map[storage.SchemaType]SchemaChecker
}

// NewChecker creates an empty Checker; per-type checkers are added with
// Register.
func NewChecker() *Checker {
	return &Checker{byType: make(map[storage.SchemaType]SchemaChecker)}
}

// Register associates a SchemaChecker with the schema types it handles.
func (c *Checker) Register(schemaType storage.SchemaType, checker SchemaChecker) {
	c.byType[schemaType] = checker
}

// Check validates candidate against the subject's prior versions (oldest
// first) under mode, short-circuiting when mode is NONE or there is no
// prior history.
func (c *Checker) Check(mode Mode, schemaType storage.SchemaType, candidate SchemaWithRefs, priorVersions []SchemaWithRefs) *Result {
	if mode == ModeNone || len(priorVersions) == 0 {
		return NewCompatibleResult()
	}

	checker, ok := c.byType[schemaType]
	if !ok {
		return NewIncompatibleResult("no compatibility checker for schema type: " + string(schemaType))
	}

	versionsInScope := priorVersions
	if !mode.IsTransitive() {
		versionsInScope = priorVersions[len(priorVersions)-1:]
	}
	// Position of versionsInScope[0] within priorVersions, so messages number
	// versions by their place in the full history.
	offset := len(priorVersions) - len(versionsInScope)

	result := NewCompatibleResult()
	for i, prior := range versionsInScope {
		for _, d := range directions {
			if !d.obligation(mode) {
				continue
			}
			reader, writer := d.readerIs(candidate, prior)
			if outcome := checker.Check(reader, writer); !outcome.IsCompatible {
				for _, msg := range outcome.Messages {
					result.AddMessage("%s compatibility check failed against version %d: %s", d.label, offset+i+1, msg)
				}
			}
		}
	}
	return result
}

// CheckPair checks candidate against a single prior schema.
func (c *Checker) CheckPair(mode Mode, schemaType storage.SchemaType, candidate, prior SchemaWithRefs) *Result {
	return c.Check(mode, schemaType, candidate, []SchemaWithRefs{prior})
}
