// Package protobuf provides Protobuf schema compatibility checking.
package protobuf

import (
	"context"
	"fmt"
	"strings"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/parser"
	"github.com/bufbuild/protocompile/reporter"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/nimbusreg/schemaregistry/internal/compatibility"
	"github.com/nimbusreg/schemaregistry/internal/storage"
)

// Checker implements compatibility.SchemaChecker for Protobuf schemas.
type Checker struct{}

// NewChecker creates a new Protobuf compatibility checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Check checks compatibility between reader and writer Protobuf schemas.
// For Protobuf, the "reader" is the new schema and "writer" is the old schema.
// This follows the same convention as Avro.
func (c *Checker) Check(reader, writer compatibility.SchemaWithRefs) *compatibility.Result {
	candidateFD, err := parseSchemaWithRefs(reader)
	if err != nil {
		return compatibility.NewIncompatibleResult("failed to parse new schema: " + err.Error())
	}

	priorFD, err := parseSchemaWithRefs(writer)
	if err != nil {
		return compatibility.NewIncompatibleResult("failed to parse old schema: " + err.Error())
	}

	result := compatibility.NewCompatibleResult()

	if candidateFD.Package() != priorFD.Package() {
		result.AddMessage("Package changed from '%s' to '%s'", priorFD.Package(), candidateFD.Package())
	}
	if candidateFD.Syntax() != priorFD.Syntax() {
		result.AddMessage("Syntax changed from '%s' to '%s'", priorFD.Syntax(), candidateFD.Syntax())
	}

	c.checkMessages(candidateFD, priorFD, result)
	c.checkEnums(candidateFD, priorFD, result)
	c.checkServices(candidateFD, priorFD, result)

	return result
}

// parseSchemaWithRefs parses a Protobuf schema string with optional references.
func parseSchemaWithRefs(s compatibility.SchemaWithRefs) (protoreflect.FileDescriptor, error) {
	handler := reporter.NewHandler(nil)
	if _, err := parser.Parse("schema.proto", strings.NewReader(s.Schema), handler); err != nil {
		return nil, err
	}

	compiler := protocompile.Compiler{
		Resolver: newCheckerResolver(s.Schema, s.References),
	}

	files, err := compiler.Compile(context.Background(), "schema.proto")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}
	return files[0], nil
}

// checkerResolver resolves protobuf imports from schema references and well-known types.
type checkerResolver struct {
	content   string
	refs      map[string]string
	wellKnown map[string]string
}

// newCheckerResolver creates a resolver for the compatibility checker.
func newCheckerResolver(content string, refs []storage.Reference) *checkerResolver {
	r := &checkerResolver{
		content:   content,
		refs:      make(map[string]string),
		wellKnown: checkerWellKnownTypes(),
	}
	for _, ref := range refs {
		if ref.Name != "" {
			r.refs[ref.Name] = ref.Schema
		}
	}
	return r
}

func (r *checkerResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if path == "schema.proto" {
		return protocompile.SearchResult{Source: strings.NewReader(r.content)}, nil
	}
	if content, ok := r.wellKnown[path]; ok {
		return protocompile.SearchResult{Source: strings.NewReader(content)}, nil
	}
	if content, ok := r.refs[path]; ok && content != "" {
		return protocompile.SearchResult{Source: strings.NewReader(content)}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
}

// diffByKey matches each candidate-side item against a prior-side set
// indexed by key, invoking onMatch for keys present on both sides and
// onRemoved for prior keys the candidate side no longer has. Adding an
// item is always free in protobuf wire compatibility; every descriptor
// comparison below (messages, fields, enums, enum values, services,
// methods) is an instance of this same "added is free, removed is not"
// shape, so it is factored out once instead of re-walked by hand per kind.
func diffByKey[K comparable, T any](candidateLen int, candidateAt func(int) T, keyOf func(T) K, prior map[K]T, onMatch func(candidate, prior T), onRemoved func(key K, prior T)) {
	remaining := make(map[K]T, len(prior))
	for k, v := range prior {
		remaining[k] = v
	}
	for i := 0; i < candidateLen; i++ {
		item := candidateAt(i)
		k := keyOf(item)
		if p, ok := remaining[k]; ok {
			onMatch(item, p)
			delete(remaining, k)
		}
	}
	for k, v := range remaining {
		onRemoved(k, v)
	}
}

// checkMessages checks compatibility of top-level messages.
func (c *Checker) checkMessages(candidate, prior protoreflect.FileDescriptor, result *compatibility.Result) {
	priorMessages := make(map[string]protoreflect.MessageDescriptor, prior.Messages().Len())
	for i := 0; i < prior.Messages().Len(); i++ {
		m := prior.Messages().Get(i)
		priorMessages[string(m.FullName())] = m
	}

	diffByKey(
		candidate.Messages().Len(),
		func(i int) protoreflect.MessageDescriptor { return candidate.Messages().Get(i) },
		func(m protoreflect.MessageDescriptor) string { return string(m.FullName()) },
		priorMessages,
		func(candidateMsg, priorMsg protoreflect.MessageDescriptor) {
			c.checkMessageCompatibility(candidateMsg, priorMsg, result)
		},
		func(name string, _ protoreflect.MessageDescriptor) {
			result.AddMessage("Message '%s' was removed", name)
		},
	)
}

// checkMessageCompatibility checks compatibility between two message descriptors.
func (c *Checker) checkMessageCompatibility(candidate, prior protoreflect.MessageDescriptor, result *compatibility.Result) {
	msgName := string(candidate.FullName())

	priorFields := make(map[int32]protoreflect.FieldDescriptor, prior.Fields().Len())
	for i := 0; i < prior.Fields().Len(); i++ {
		f := prior.Fields().Get(i)
		priorFields[int32(f.Number())] = f
	}

	diffByKey(
		candidate.Fields().Len(),
		func(i int) protoreflect.FieldDescriptor { return candidate.Fields().Get(i) },
		func(f protoreflect.FieldDescriptor) int32 { return int32(f.Number()) },
		priorFields,
		func(candidateField, priorField protoreflect.FieldDescriptor) {
			c.checkFieldCompatibility(candidateField, priorField, msgName, result)
		},
		func(num int32, priorField protoreflect.FieldDescriptor) {
			result.AddMessage("Message '%s': field '%s' (number %d) was removed", msgName, priorField.Name(), num)
		},
	)

	// A brand new required field is absent from data written under the
	// prior schema, so this reader cannot decode that data — report it even
	// though diffByKey only flags removals by default.
	for i := 0; i < candidate.Fields().Len(); i++ {
		f := candidate.Fields().Get(i)
		if _, existed := priorFields[int32(f.Number())]; !existed && f.Cardinality() == protoreflect.Required {
			result.AddMessage("Message '%s': new required field '%s' (number %d) added", msgName, f.Name(), f.Number())
		}
	}

	c.checkNestedMessages(candidate, prior, result)
	c.checkNestedEnums(candidate, prior, result)
}

// checkFieldCompatibility checks compatibility between two field descriptors.
func (c *Checker) checkFieldCompatibility(candidate, prior protoreflect.FieldDescriptor, msgName string, result *compatibility.Result) {
	fieldName := string(candidate.Name())
	fieldNum := candidate.Number()

	// Field renames are allowed in protobuf: the wire format is keyed by
	// number, not name.

	if !c.areTypesCompatible(candidate, prior) {
		result.AddMessage("Message '%s': field %d type changed from '%s' to '%s'",
			msgName, fieldNum, protoTypeName(prior), protoTypeName(candidate))
	}

	priorCard := prior.Cardinality()
	candidateCard := candidate.Cardinality()

	switch {
	case priorCard == candidateCard:
		// no cardinality change
	case priorCard == protoreflect.Optional && candidateCard == protoreflect.Repeated:
		// optional -> repeated: compatible for reading
	case priorCard == protoreflect.Required && candidateCard != protoreflect.Required:
		// required -> optional/repeated: compatible
	case candidateCard == protoreflect.Required && priorCard != protoreflect.Required:
		result.AddMessage("Message '%s': field '%s' changed from optional to required", msgName, fieldName)
	case priorCard == protoreflect.Repeated && candidateCard != protoreflect.Repeated:
		result.AddMessage("Message '%s': field '%s' changed from repeated to singular", msgName, fieldName)
	}

	if (prior.ContainingOneof() == nil) != (candidate.ContainingOneof() == nil) {
		result.AddMessage("Message '%s': field '%s' oneof membership changed", msgName, fieldName)
	}
}

// wireCompatibleKinds groups field kinds that are treated as interchangeable:
// switching between kinds within one group is not reported.
var wireCompatibleKinds = [][]protoreflect.Kind{
	{protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind, protoreflect.EnumKind},
	{protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind},
	{protoreflect.Uint32Kind, protoreflect.Fixed32Kind},
	{protoreflect.Uint64Kind, protoreflect.Fixed64Kind},
	{protoreflect.StringKind, protoreflect.BytesKind},
}

// areTypesCompatible checks if two field types are compatible.
func (c *Checker) areTypesCompatible(candidate, prior protoreflect.FieldDescriptor) bool {
	candidateKind := candidate.Kind()
	priorKind := prior.Kind()

	if candidateKind == priorKind {
		switch candidateKind {
		case protoreflect.MessageKind:
			return candidate.Message().FullName() == prior.Message().FullName()
		case protoreflect.EnumKind:
			return candidate.Enum().FullName() == prior.Enum().FullName()
		default:
			return true
		}
	}

	// int32/sint32/sfixed32/enum, int64/sint64/sfixed64, uint32/fixed32,
	// uint64/fixed64 and string/bytes each form one group, so a change
	// within a group is accepted; everything else (e.g. int32 vs uint32,
	// float vs double) is not compatible.
	for _, group := range wireCompatibleKinds {
		priorInGroup, candidateInGroup := false, false
		for _, k := range group {
			if priorKind == k {
				priorInGroup = true
			}
			if candidateKind == k {
				candidateInGroup = true
			}
		}
		if priorInGroup && candidateInGroup {
			return true
		}
	}

	return false
}

// checkNestedMessages checks compatibility of nested messages.
func (c *Checker) checkNestedMessages(candidate, prior protoreflect.MessageDescriptor, result *compatibility.Result) {
	priorNested := make(map[string]protoreflect.MessageDescriptor)
	for i := 0; i < prior.Messages().Len(); i++ {
		nm := prior.Messages().Get(i)
		if !nm.IsMapEntry() {
			priorNested[string(nm.Name())] = nm
		}
	}

	candidateNested := make([]protoreflect.MessageDescriptor, 0, candidate.Messages().Len())
	for i := 0; i < candidate.Messages().Len(); i++ {
		if nm := candidate.Messages().Get(i); !nm.IsMapEntry() {
			candidateNested = append(candidateNested, nm)
		}
	}

	diffByKey(
		len(candidateNested),
		func(i int) protoreflect.MessageDescriptor { return candidateNested[i] },
		func(m protoreflect.MessageDescriptor) string { return string(m.Name()) },
		priorNested,
		func(candidateMsg, priorMsg protoreflect.MessageDescriptor) {
			c.checkMessageCompatibility(candidateMsg, priorMsg, result)
		},
		func(name string, _ protoreflect.MessageDescriptor) {
			result.AddMessage("Nested message '%s.%s' was removed", prior.FullName(), name)
		},
	)
}

// checkNestedEnums checks compatibility of nested enums.
func (c *Checker) checkNestedEnums(candidate, prior protoreflect.MessageDescriptor, result *compatibility.Result) {
	priorEnums := make(map[string]protoreflect.EnumDescriptor, prior.Enums().Len())
	for i := 0; i < prior.Enums().Len(); i++ {
		e := prior.Enums().Get(i)
		priorEnums[string(e.Name())] = e
	}

	diffByKey(
		candidate.Enums().Len(),
		func(i int) protoreflect.EnumDescriptor { return candidate.Enums().Get(i) },
		func(e protoreflect.EnumDescriptor) string { return string(e.Name()) },
		priorEnums,
		func(candidateEnum, priorEnum protoreflect.EnumDescriptor) {
			c.checkEnumCompatibility(candidateEnum, priorEnum, result)
		},
		func(name string, _ protoreflect.EnumDescriptor) {
			result.AddMessage("Nested enum '%s.%s' was removed", prior.FullName(), name)
		},
	)
}

// checkEnums checks compatibility of top-level enums.
func (c *Checker) checkEnums(candidate, prior protoreflect.FileDescriptor, result *compatibility.Result) {
	priorEnums := make(map[string]protoreflect.EnumDescriptor, prior.Enums().Len())
	for i := 0; i < prior.Enums().Len(); i++ {
		e := prior.Enums().Get(i)
		priorEnums[string(e.FullName())] = e
	}

	diffByKey(
		candidate.Enums().Len(),
		func(i int) protoreflect.EnumDescriptor { return candidate.Enums().Get(i) },
		func(e protoreflect.EnumDescriptor) string { return string(e.FullName()) },
		priorEnums,
		func(candidateEnum, priorEnum protoreflect.EnumDescriptor) {
			c.checkEnumCompatibility(candidateEnum, priorEnum, result)
		},
		func(name string, _ protoreflect.EnumDescriptor) {
			result.AddMessage("Enum '%s' was removed", name)
		},
	)
}

// checkEnumCompatibility checks compatibility between two enum descriptors.
// Renaming a value is allowed (the wire format carries the number); only a
// vanished number is reported.
func (c *Checker) checkEnumCompatibility(candidate, prior protoreflect.EnumDescriptor, result *compatibility.Result) {
	enumName := string(candidate.FullName())

	priorValues := make(map[int32]protoreflect.EnumValueDescriptor, prior.Values().Len())
	for i := 0; i < prior.Values().Len(); i++ {
		v := prior.Values().Get(i)
		priorValues[int32(v.Number())] = v
	}

	diffByKey(
		candidate.Values().Len(),
		func(i int) protoreflect.EnumValueDescriptor { return candidate.Values().Get(i) },
		func(v protoreflect.EnumValueDescriptor) int32 { return int32(v.Number()) },
		priorValues,
		func(_, _ protoreflect.EnumValueDescriptor) {
			// matched by number; a name change alone is allowed
		},
		func(num int32, priorValue protoreflect.EnumValueDescriptor) {
			result.AddMessage("Enum '%s': value '%s' (number %d) was removed", enumName, priorValue.Name(), num)
		},
	)
}

// checkServices checks compatibility of services.
func (c *Checker) checkServices(candidate, prior protoreflect.FileDescriptor, result *compatibility.Result) {
	priorServices := make(map[string]protoreflect.ServiceDescriptor, prior.Services().Len())
	for i := 0; i < prior.Services().Len(); i++ {
		s := prior.Services().Get(i)
		priorServices[string(s.FullName())] = s
	}

	diffByKey(
		candidate.Services().Len(),
		func(i int) protoreflect.ServiceDescriptor { return candidate.Services().Get(i) },
		func(s protoreflect.ServiceDescriptor) string { return string(s.FullName()) },
		priorServices,
		func(candidateSvc, priorSvc protoreflect.ServiceDescriptor) {
			c.checkServiceCompatibility(candidateSvc, priorSvc, result)
		},
		func(name string, _ protoreflect.ServiceDescriptor) {
			result.AddMessage("Service '%s' was removed", name)
		},
	)
}

// checkServiceCompatibility checks compatibility between two service descriptors.
func (c *Checker) checkServiceCompatibility(candidate, prior protoreflect.ServiceDescriptor, result *compatibility.Result) {
	svcName := string(candidate.FullName())

	priorMethods := make(map[string]protoreflect.MethodDescriptor, prior.Methods().Len())
	for i := 0; i < prior.Methods().Len(); i++ {
		m := prior.Methods().Get(i)
		priorMethods[string(m.Name())] = m
	}

	diffByKey(
		candidate.Methods().Len(),
		func(i int) protoreflect.MethodDescriptor { return candidate.Methods().Get(i) },
		func(m protoreflect.MethodDescriptor) string { return string(m.Name()) },
		priorMethods,
		func(candidateMethod, priorMethod protoreflect.MethodDescriptor) {
			name := string(candidateMethod.Name())
			if candidateMethod.Input().FullName() != priorMethod.Input().FullName() {
				result.AddMessage("Service '%s': method '%s' input type changed from '%s' to '%s'",
					svcName, name, priorMethod.Input().FullName(), candidateMethod.Input().FullName())
			}
			if candidateMethod.Output().FullName() != priorMethod.Output().FullName() {
				result.AddMessage("Service '%s': method '%s' output type changed from '%s' to '%s'",
					svcName, name, priorMethod.Output().FullName(), candidateMethod.Output().FullName())
			}
			if candidateMethod.IsStreamingClient() != priorMethod.IsStreamingClient() {
				result.AddMessage("Service '%s': method '%s' client streaming changed", svcName, name)
			}
			if candidateMethod.IsStreamingServer() != priorMethod.IsStreamingServer() {
				result.AddMessage("Service '%s': method '%s' server streaming changed", svcName, name)
			}
		},
		func(name string, _ protoreflect.MethodDescriptor) {
			result.AddMessage("Service '%s': method '%s' was removed", svcName, name)
		},
	)
}

// protoTypeName returns a human-readable type name for a field.
func protoTypeName(f protoreflect.FieldDescriptor) string {
	switch f.Kind() {
	case protoreflect.BoolKind:
		return "bool"
	case protoreflect.Int32Kind:
		return "int32"
	case protoreflect.Sint32Kind:
		return "sint32"
	case protoreflect.Uint32Kind:
		return "uint32"
	case protoreflect.Int64Kind:
		return "int64"
	case protoreflect.Sint64Kind:
		return "sint64"
	case protoreflect.Uint64Kind:
		return "uint64"
	case protoreflect.Sfixed32Kind:
		return "sfixed32"
	case protoreflect.Fixed32Kind:
		return "fixed32"
	case protoreflect.FloatKind:
		return "float"
	case protoreflect.Sfixed64Kind:
		return "sfixed64"
	case protoreflect.Fixed64Kind:
		return "fixed64"
	case protoreflect.DoubleKind:
		return "double"
	case protoreflect.StringKind:
		return "string"
	case protoreflect.BytesKind:
		return "bytes"
	case protoreflect.MessageKind:
		return string(f.Message().FullName())
	case protoreflect.EnumKind:
		return string(f.Enum().FullName())
	case protoreflect.GroupKind:
		return "group"
	default:
		return "unknown"
	}
}

// checkerWellKnownTypes returns proto definitions for commonly-used well-known types.
func checkerWellKnownTypes() map[string]string {
	return map[string]string{
		"google/protobuf/any.proto": `
syntax = "proto3";
package google.protobuf;
message Any {
  string type_url = 1;
  bytes value = 2;
}`,
		"google/protobuf/timestamp.proto": `
syntax = "proto3";
package google.protobuf;
message Timestamp {
  int64 seconds = 1;
  int32 nanos = 2;
}`,
		"google/protobuf/duration.proto": `
syntax = "proto3";
package google.protobuf;
message Duration {
  int64 seconds = 1;
  int32 nanos = 2;
}`,
		"google/protobuf/empty.proto": `
syntax = "proto3";
package google.protobuf;
message Empty {}`,
		"google/protobuf/wrappers.proto": `
syntax = "proto3";
package google.protobuf;
message DoubleValue { double value = 1; }
message FloatValue { float value = 1; }
message Int64Value { int64 value = 1; }
message UInt64Value { uint64 value = 1; }
message Int32Value { int32 value = 1; }
message UInt32Value { uint32 value = 1; }
message BoolValue { bool value = 1; }
message StringValue { string value = 1; }
message BytesValue { bytes value = 1; }`,
		"google/protobuf/struct.proto": `
syntax = "proto3";
package google.protobuf;
message Struct {
  map<string, Value> fields = 1;
}
message Value {
  oneof kind {
    NullValue null_value = 1;
    double number_value = 2;
    string string_value = 3;
    bool bool_value = 4;
    Struct struct_value = 5;
    ListValue list_value = 6;
  }
}
message ListValue {
  repeated Value values = 1;
}
enum NullValue {
  NULL_VALUE = 0;
}`,
		"google/protobuf/field_mask.proto": `
syntax = "proto3";
package google.protobuf;
message FieldMask {
  repeated string paths = 1;
}`,
	}
}

// Ensure Checker implements compatibility.SchemaChecker
var _ compatibility.SchemaChecker = (*Checker)(nil)
