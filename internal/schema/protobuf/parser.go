// Package protobuf provides Protobuf schema parsing.
package protobuf

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/nimbusreg/schemaregistry/internal/schema"
	"github.com/nimbusreg/schemaregistry/internal/storage"
)

// Parser implements schema.Parser for Protobuf schemas.
type Parser struct {
	resolver *referenceResolver
}

// NewParser creates a new Protobuf parser.
func NewParser() *Parser {
	return &Parser{
		resolver: newReferenceResolver(),
	}
}

// Type returns the schema type.
func (p *Parser) Type() storage.SchemaType {
	return storage.SchemaTypeProtobuf
}

// Parse parses and validates a Protobuf schema.
func (p *Parser) Parse(schemaStr string, refs []storage.Reference) (schema.ParsedSchema, error) {
	// Create a resolver with references and the schema content
	resolver := p.resolver.withReferencesAndSchema(schemaStr, refs)

	// Create compiler
	compiler := protocompile.Compiler{
		Resolver:       resolver,
		SourceInfoMode: protocompile.SourceInfoStandard,
	}

	// Compile to get the file descriptor
	ctx := context.Background()
	files, err := compiler.Compile(ctx, "schema.proto")
	if err != nil {
		return nil, fmt.Errorf("failed to compile protobuf: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}

	fd := files[0]

	return &ParsedProtobuf{
		raw:        schemaStr,
		descriptor: fd,
		references: refs,
	}, nil
}

// ParsedProtobuf represents a parsed Protobuf schema.
type ParsedProtobuf struct {
	raw        string
	descriptor protoreflect.FileDescriptor
	references []storage.Reference
}

// Type returns the schema type.
func (p *ParsedProtobuf) Type() storage.SchemaType {
	return storage.SchemaTypeProtobuf
}

// CanonicalString returns the canonical form of the schema.
func (p *ParsedProtobuf) CanonicalString() string {
	return p.normalize()
}

// Fingerprint returns a unique fingerprint for the schema.
func (p *ParsedProtobuf) Fingerprint() string {
	// Normalize and hash the schema
	normalized := p.normalize()
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])
}

// RawSchema returns the underlying schema object.
func (p *ParsedProtobuf) RawSchema() interface{} {
	return p.descriptor
}

// Raw returns the original schema string.
func (p *ParsedProtobuf) Raw() string {
	return p.raw
}

// Descriptor returns the file descriptor.
func (p *ParsedProtobuf) Descriptor() protoreflect.FileDescriptor {
	return p.descriptor
}

// Normalize returns a normalized copy of this schema.
func (p *ParsedProtobuf) Normalize() schema.ParsedSchema {
	return &ParsedProtobuf{
		raw:        p.normalize(),
		descriptor: p.descriptor,
		references: p.references,
	}
}

// HasTopLevelField reports whether any top-level message in the Protobuf
// schema contains a field with the given name.
func (p *ParsedProtobuf) HasTopLevelField(field string) bool {
	if p.descriptor == nil {
		return false
	}
	msgs := p.descriptor.Messages()
	for i := 0; i < msgs.Len(); i++ {
		fields := msgs.Get(i).Fields()
		for j := 0; j < fields.Len(); j++ {
			if string(fields.Get(j).Name()) == field {
				return true
			}
		}
	}
	return false
}

// FormattedString returns the schema in the requested format.
// Supported formats: "serialized" (base64-encoded FileDescriptorProto), "default" (canonical).
func (p *ParsedProtobuf) FormattedString(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "serialized":
		fdp := toFileDescriptorProto(p.descriptor)
		data, err := proto.Marshal(fdp)
		if err != nil {
			return p.normalize()
		}
		return base64.StdEncoding.EncodeToString(data)
	default:
		return p.normalize()
	}
}

// toFileDescriptorProto converts a protoreflect.FileDescriptor to a descriptorpb.FileDescriptorProto.
func toFileDescriptorProto(fd protoreflect.FileDescriptor) *descriptorpb.FileDescriptorProto {
	fdp := &descriptorpb.FileDescriptorProto{}
	name := fd.Path()
	fdp.Name = &name
	if fd.Package() != "" {
		pkg := string(fd.Package())
		fdp.Package = &pkg
	}
	syntax := "proto3"
	if fd.Syntax() == protoreflect.Proto2 {
		syntax = "proto2"
	}
	fdp.Syntax = &syntax

	// Dependencies
	for i := 0; i < fd.Imports().Len(); i++ {
		fdp.Dependency = append(fdp.Dependency, fd.Imports().Get(i).Path())
	}

	// Messages
	for i := 0; i < fd.Messages().Len(); i++ {
		fdp.MessageType = append(fdp.MessageType, messageToProto(fd.Messages().Get(i)))
	}

	// Enums
	for i := 0; i < fd.Enums().Len(); i++ {
		fdp.EnumType = append(fdp.EnumType, enumToProto(fd.Enums().Get(i)))
	}

	// Services
	for i := 0; i < fd.Services().Len(); i++ {
		fdp.Service = append(fdp.Service, serviceToProto(fd.Services().Get(i)))
	}

	return fdp
}

func messageToProto(md protoreflect.MessageDescriptor) *descriptorpb.DescriptorProto {
	dp := &descriptorpb.DescriptorProto{}
	name := string(md.Name())
	dp.Name = &name

	for i := 0; i < md.Fields().Len(); i++ {
		dp.Field = append(dp.Field, fieldToProto(md.Fields().Get(i)))
	}
	for i := 0; i < md.Oneofs().Len(); i++ {
		oo := md.Oneofs().Get(i)
		ooName := string(oo.Name())
		dp.OneofDecl = append(dp.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: &ooName})
	}
	for i := 0; i < md.Messages().Len(); i++ {
		dp.NestedType = append(dp.NestedType, messageToProto(md.Messages().Get(i)))
	}
	for i := 0; i < md.Enums().Len(); i++ {
		dp.EnumType = append(dp.EnumType, enumToProto(md.Enums().Get(i)))
	}
	return dp
}

func fieldToProto(fd protoreflect.FieldDescriptor) *descriptorpb.FieldDescriptorProto {
	fp := &descriptorpb.FieldDescriptorProto{}
	name := string(fd.Name())
	fp.Name = &name
	num := int32(fd.Number())
	fp.Number = &num
	fdType := descriptorpb.FieldDescriptorProto_Type(fd.Kind())
	fp.Type = &fdType
	label := descriptorpb.FieldDescriptorProto_Label(fd.Cardinality())
	fp.Label = &label
	if fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.EnumKind {
		tn := string(fd.Message().FullName())
		if fd.Kind() == protoreflect.EnumKind {
			tn = string(fd.Enum().FullName())
		}
		fp.TypeName = &tn
	}
	if fd.ContainingOneof() != nil {
		idx := int32(fd.ContainingOneof().Index()) // #nosec G115 -- oneof index is always small
		fp.OneofIndex = &idx
	}
	return fp
}

func enumToProto(ed protoreflect.EnumDescriptor) *descriptorpb.EnumDescriptorProto {
	ep := &descriptorpb.EnumDescriptorProto{}
	name := string(ed.Name())
	ep.Name = &name
	for i := 0; i < ed.Values().Len(); i++ {
		v := ed.Values().Get(i)
		vName := string(v.Name())
		vNum := int32(v.Number())
		ep.Value = append(ep.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   &vName,
			Number: &vNum,
		})
	}
	return ep
}

func serviceToProto(sd protoreflect.ServiceDescriptor) *descriptorpb.ServiceDescriptorProto {
	sp := &descriptorpb.ServiceDescriptorProto{}
	name := string(sd.Name())
	sp.Name = &name
	for i := 0; i < sd.Methods().Len(); i++ {
		m := sd.Methods().Get(i)
		mName := string(m.Name())
		input := string(m.Input().FullName())
		output := string(m.Output().FullName())
		sp.Method = append(sp.Method, &descriptorpb.MethodDescriptorProto{
			Name:       &mName,
			InputType:  &input,
			OutputType: &output,
		})
	}
	return sp
}

// normalize returns a normalized form of the schema.
func (p *ParsedProtobuf) normalize() string {
	// Build normalized representation from descriptor
	var sb strings.Builder

	fd := p.descriptor

	// Package
	if fd.Package() != "" {
		sb.WriteString(fmt.Sprintf("package %s;\n", fd.Package()))
	}

	// Syntax
	if fd.Syntax() == protoreflect.Proto3 {
		sb.WriteString("syntax = \"proto3\";\n")
	} else {
		sb.WriteString("syntax = \"proto2\";\n")
	}

	messages := make([]string, 0, fd.Messages().Len())
	for i := 0; i < fd.Messages().Len(); i++ {
		messages = append(messages, normalizeMessage(fd.Messages().Get(i), 0))
	}
	sb.WriteString(byName(messages))

	enums := make([]string, 0, fd.Enums().Len())
	for i := 0; i < fd.Enums().Len(); i++ {
		enums = append(enums, normalizeEnum(fd.Enums().Get(i), 0))
	}
	sb.WriteString(byName(enums))

	services := make([]string, 0, fd.Services().Len())
	for i := 0; i < fd.Services().Len(); i++ {
		services = append(services, normalizeService(fd.Services().Get(i)))
	}
	sb.WriteString(byName(services))

	return sb.String()
}

// numbered pairs a wire number with its rendered text, so declarations can
// be emitted in wire-number order rather than descriptor (declaration) order.
type numbered struct {
	number int
	text   string
}

// byNumber renders a set of numbered declarations sorted by wire number.
func byNumber(items []numbered) string {
	sort.Slice(items, func(i, j int) bool { return items[i].number < items[j].number })
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString(it.text)
	}
	return sb.String()
}

// byName renders a set of declarations sorted lexically by their full text,
// used where descriptors (messages, enums, services) carry no numeric order.
func byName(items []string) string {
	sort.Strings(items)
	return strings.Join(items, "")
}

// normalizeMessage normalizes a message descriptor.
func normalizeMessage(msg protoreflect.MessageDescriptor, indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(fmt.Sprintf("%smessage %s {\n", prefix, msg.Name()))

	fields := make([]numbered, 0, msg.Fields().Len())
	for i := 0; i < msg.Fields().Len(); i++ {
		f := msg.Fields().Get(i)
		fields = append(fields, numbered{number: int(f.Number()), text: normalizeField(f, indent+1)})
	}
	sb.WriteString(byNumber(fields))

	nested := make([]string, 0, msg.Messages().Len())
	for i := 0; i < msg.Messages().Len(); i++ {
		nm := msg.Messages().Get(i)
		if !nm.IsMapEntry() { // map entry types are synthetic, not user-declared
			nested = append(nested, normalizeMessage(nm, indent+1))
		}
	}
	sb.WriteString(byName(nested))

	enums := make([]string, 0, msg.Enums().Len())
	for i := 0; i < msg.Enums().Len(); i++ {
		enums = append(enums, normalizeEnum(msg.Enums().Get(i), indent+1))
	}
	sb.WriteString(byName(enums))

	oneofs := make([]string, 0, msg.Oneofs().Len())
	for i := 0; i < msg.Oneofs().Len(); i++ {
		o := msg.Oneofs().Get(i)
		if !o.IsSynthetic() { // synthetic oneofs back proto3 optional fields
			oneofs = append(oneofs, normalizeOneof(o, indent+1))
		}
	}
	sb.WriteString(byName(oneofs))

	sb.WriteString(fmt.Sprintf("%s}\n", prefix))
	return sb.String()
}

// normalizeField normalizes a field descriptor.
func normalizeField(f protoreflect.FieldDescriptor, indent int) string {
	prefix := strings.Repeat("  ", indent)

	var label string
	if f.Cardinality() == protoreflect.Repeated {
		if f.IsMap() {
			// Map field
			keyType := protoTypeName(f.MapKey())
			valueType := protoTypeName(f.MapValue())
			return fmt.Sprintf("%smap<%s, %s> %s = %d;\n", prefix, keyType, valueType, f.Name(), f.Number())
		}
		label = "repeated "
	} else if f.Cardinality() == protoreflect.Optional && f.ParentFile().Syntax() == protoreflect.Proto2 {
		label = "optional "
	} else if f.Cardinality() == protoreflect.Required {
		label = "required "
	}

	typeName := protoTypeName(f)

	return fmt.Sprintf("%s%s%s %s = %d;\n", prefix, label, typeName, f.Name(), f.Number())
}

// protoTypeName returns the type name for a field.
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

// normalizeEnum normalizes an enum descriptor.
func normalizeEnum(e protoreflect.EnumDescriptor, indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(fmt.Sprintf("%senum %s {\n", prefix, e.Name()))

	values := make([]numbered, 0, e.Values().Len())
	for i := 0; i < e.Values().Len(); i++ {
		v := e.Values().Get(i)
		values = append(values, numbered{
			number: int(v.Number()),
			text:   fmt.Sprintf("%s  %s = %d;\n", prefix, v.Name(), v.Number()),
		})
	}
	sb.WriteString(byNumber(values))

	sb.WriteString(fmt.Sprintf("%s}\n", prefix))
	return sb.String()
}

// normalizeOneof normalizes a oneof descriptor.
func normalizeOneof(o protoreflect.OneofDescriptor, indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(fmt.Sprintf("%soneof %s {\n", prefix, o.Name()))

	fields := make([]numbered, 0, o.Fields().Len())
	for i := 0; i < o.Fields().Len(); i++ {
		f := o.Fields().Get(i)
		fields = append(fields, numbered{
			number: int(f.Number()),
			text:   fmt.Sprintf("%s  %s %s = %d;\n", prefix, protoTypeName(f), f.Name(), f.Number()),
		})
	}
	sb.WriteString(byNumber(fields))

	sb.WriteString(fmt.Sprintf("%s}\n", prefix))
	return sb.String()
}

// normalizeService normalizes a service descriptor.
func normalizeService(s protoreflect.ServiceDescriptor) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("service %s {\n", s.Name()))

	methods := make([]string, 0, s.Methods().Len())
	for i := 0; i < s.Methods().Len(); i++ {
		m := s.Methods().Get(i)
		inputStream := ""
		outputStream := ""
		if m.IsStreamingClient() {
			inputStream = "stream "
		}
		if m.IsStreamingServer() {
			outputStream = "stream "
		}
		methods = append(methods, fmt.Sprintf("  rpc %s (%s%s) returns (%s%s);\n",
			m.Name(), inputStream, m.Input().FullName(), outputStream, m.Output().FullName()))
	}
	sb.WriteString(byName(methods))

	sb.WriteString("}\n")
	return sb.String()
}

// Ensure Parser implements schema.Parser
var _ schema.Parser = (*Parser)(nil)
