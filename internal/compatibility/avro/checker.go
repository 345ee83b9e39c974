// Package avro provides Avro schema compatibility checking.
package avro

import (
	"fmt"

	"github.com/hamba/avro/v2"

	"github.com/nimbusreg/schemaregistry/internal/compatibility"
)

// widenings enumerates the writer->reader primitive promotions Avro allows
// without a schema rewrite: integer widening and the bytes/string pair.
var widenings = map[avro.Type]map[avro.Type]bool{
	avro.Int:    {avro.Long: true, avro.Float: true, avro.Double: true},
	avro.Long:   {avro.Float: true, avro.Double: true},
	avro.Float:  {avro.Double: true},
	avro.String: {avro.Bytes: true},
	avro.Bytes:  {avro.String: true},
}

func promotable(writer, reader avro.Type) bool {
	return widenings[writer][reader]
}

// path tracks the dotted/bracketed location of a nested schema comparison
// for diagnostic messages, rendering as "root" at the top level.
type path string

func (p path) String() string {
	if p == "" {
		return "root"
	}
	return string(p)
}

func (p path) field(name string) path {
	if p == "" {
		return path(name)
	}
	return p + "." + path(name)
}

func (p path) index(segment string) path {
	return p.field(segment)
}

// Checker implements Avro schema compatibility checking. A single reader
// schema is compared against a single writer schema; SchemaChecker.Check's
// reader/writer assignment already encodes the BACKWARD/FORWARD direction.
type Checker struct{}

// NewChecker creates a new Avro compatibility checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Check parses both sides and compares them, reporting any schema evolution
// that the reader could not consume data produced by the writer.
func (c *Checker) Check(reader, writer compatibility.SchemaWithRefs) *compatibility.Result {
	readerSchema, err := decode(reader)
	if err != nil {
		return compatibility.NewIncompatibleResult(fmt.Sprintf("invalid reader schema: %v", err))
	}

	writerSchema, err := decode(writer)
	if err != nil {
		return compatibility.NewIncompatibleResult(fmt.Sprintf("invalid writer schema: %v", err))
	}

	return compare(readerSchema, writerSchema, "")
}

// decode parses a schema string, resolving named references into a shared
// cache first so the primary schema's references can find them by name.
func decode(s compatibility.SchemaWithRefs) (avro.Schema, error) {
	if len(s.References) == 0 {
		return avro.Parse(s.Schema)
	}
	cache := &avro.SchemaCache{}
	for _, ref := range s.References {
		if ref.Schema == "" {
			continue
		}
		if _, err := avro.ParseWithCache(ref.Schema, "", cache); err != nil {
			return nil, fmt.Errorf("invalid reference schema %q: %w", ref.Name, err)
		}
	}
	return avro.ParseWithCache(s.Schema, "", cache)
}

// compare recursively walks a reader/writer schema pair, returning every
// incompatibility found along the way.
func compare(reader, writer avro.Schema, at path) *compatibility.Result {
	if promotable(writer.Type(), reader.Type()) {
		return compatibility.NewCompatibleResult()
	}

	if reader.Type() != writer.Type() {
		if reader.Type() == avro.Union {
			return compareIntoReaderUnion(reader.(*avro.UnionSchema), writer, at)
		}
		if writer.Type() == avro.Union {
			return compareFromWriterUnion(reader, writer.(*avro.UnionSchema), at)
		}
		result := compatibility.NewCompatibleResult()
		result.AddMessage("%s: type mismatch: reader has %s, writer has %s", at, reader.Type(), writer.Type())
		return result
	}

	switch r := reader.(type) {
	case *avro.RecordSchema:
		return compareRecords(r, writer.(*avro.RecordSchema), at)
	case *avro.EnumSchema:
		return compareEnums(r, writer.(*avro.EnumSchema), at)
	case *avro.ArraySchema:
		return compare(r.Items(), writer.(*avro.ArraySchema).Items(), at.index("[]"))
	case *avro.MapSchema:
		return compare(r.Values(), writer.(*avro.MapSchema).Values(), at.index("{}"))
	case *avro.UnionSchema:
		return compareUnions(r, writer.(*avro.UnionSchema), at)
	case *avro.FixedSchema:
		return compareFixed(r, writer.(*avro.FixedSchema), at)
	default:
		// Primitives already matched above on Type(); nothing further to check.
		return compatibility.NewCompatibleResult()
	}
}

// compareRecords matches fields by name (falling back to aliases on either
// side per the Avro spec) and requires a reader-side default for any field
// the writer no longer sends.
func compareRecords(reader, writer *avro.RecordSchema, at path) *compatibility.Result {
	result := compatibility.NewCompatibleResult()

	if !namesAlias(reader.FullName(), reader.Aliases(), writer.FullName(), writer.Aliases()) {
		result.AddMessage("%s: record name mismatch: reader has %s, writer has %s", at, reader.FullName(), writer.FullName())
		return result
	}

	byNameOrAlias := make(map[string]*avro.Field)
	for _, f := range writer.Fields() {
		byNameOrAlias[f.Name()] = f
		for _, alias := range f.Aliases() {
			byNameOrAlias[alias] = f
		}
	}

	for _, rf := range reader.Fields() {
		fieldPath := at.field(rf.Name())

		wf, ok := byNameOrAlias[rf.Name()]
		if !ok {
			for _, alias := range rf.Aliases() {
				if wf, ok = byNameOrAlias[alias]; ok {
					break
				}
			}
		}

		if !ok {
			if !rf.HasDefault() {
				result.AddMessage("%s: reader field '%s' has no default and is missing from writer", at, rf.Name())
			}
			continue
		}

		result.Merge(compare(rf.Type(), wf.Type(), fieldPath))
	}

	return result
}

// namesAlias reports whether a and b name the same record/fixed type,
// directly or through either side's alias list.
func namesAlias(a string, aAliases []string, b string, bAliases []string) bool {
	if a == b {
		return true
	}
	for _, alias := range bAliases {
		if a == alias {
			return true
		}
	}
	for _, alias := range aAliases {
		if b == alias {
			return true
		}
	}
	return false
}

// compareEnums allows the reader to carry extra symbols; a writer symbol
// missing from the reader is only tolerated if the reader declares a
// default to fall back on.
func compareEnums(reader, writer *avro.EnumSchema, at path) *compatibility.Result {
	result := compatibility.NewCompatibleResult()

	if reader.FullName() != writer.FullName() {
		result.AddMessage("%s: enum name mismatch: reader has %s, writer has %s", at, reader.FullName(), writer.FullName())
		return result
	}

	known := make(map[string]bool, len(reader.Symbols()))
	for _, s := range reader.Symbols() {
		known[s] = true
	}

	for _, ws := range writer.Symbols() {
		if !known[ws] && reader.Default() == "" {
			result.AddMessage("%s: writer enum symbol '%s' not found in reader and no default set", at, ws)
		}
	}

	return result
}

// compareUnions requires every writer branch to be readable by at least one
// reader branch.
func compareUnions(reader, writer *avro.UnionSchema, at path) *compatibility.Result {
	result := compatibility.NewCompatibleResult()

	for _, wt := range writer.Types() {
		readable := false
		for _, rt := range reader.Types() {
			if compare(rt, wt, at).IsCompatible {
				readable = true
				break
			}
		}
		if !readable {
			result.AddMessage("%s: writer union type %s is not compatible with any reader union type", at, wt.Type())
		}
	}

	return result
}

// compareIntoReaderUnion handles a non-union writer against a union reader:
// the writer value just needs one matching branch.
func compareIntoReaderUnion(reader *avro.UnionSchema, writer avro.Schema, at path) *compatibility.Result {
	for _, rt := range reader.Types() {
		if compare(rt, writer, at).IsCompatible {
			return compatibility.NewCompatibleResult()
		}
	}
	return compatibility.NewIncompatibleResult(
		fmt.Sprintf("%s: writer type %s is not compatible with any type in reader union", at, writer.Type()))
}

// compareFromWriterUnion handles a union writer against a non-union reader:
// every branch the writer could have produced must be readable.
func compareFromWriterUnion(reader avro.Schema, writer *avro.UnionSchema, at path) *compatibility.Result {
	for _, wt := range writer.Types() {
		if result := compare(reader, wt, at); !result.IsCompatible {
			return compatibility.NewIncompatibleResult(
				fmt.Sprintf("%s: reader type %s cannot read writer union type %s", at, reader.Type(), wt.Type()))
		}
	}
	return compatibility.NewCompatibleResult()
}

// compareFixed requires exact name and byte-length agreement; fixed has no
// promotion rule.
func compareFixed(reader, writer *avro.FixedSchema, at path) *compatibility.Result {
	result := compatibility.NewCompatibleResult()

	if reader.FullName() != writer.FullName() {
		result.AddMessage("%s: fixed name mismatch: reader has %s, writer has %s", at, reader.FullName(), writer.FullName())
	}
	if reader.Size() != writer.Size() {
		result.AddMessage("%s: fixed size mismatch: reader has %d, writer has %d", at, reader.Size(), writer.Size())
	}

	return result
}
