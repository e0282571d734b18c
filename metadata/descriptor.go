package metadata

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/wippyai/interop-bridge/errors"
)

// TypeID derives a type identifier from a type name: the 31-based string
// hash of the lower-cased name over UTF-16 code units. Both runtimes derive
// ids the same way, so a name always maps to the same id on either side.
func TypeID(name string) int32 {
	return hashName(name)
}

// FieldID derives a field identifier from a field name.
func FieldID(name string) int32 {
	return hashName(name)
}

func hashName(name string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(strings.ToLower(name))) {
		h = 31*h + int32(c)
	}
	return h
}

// Field describes one field of a type.
type Field struct {
	TypeID  int32
	FieldID int32
}

// Descriptor is an immutable, versioned schema for one type. Build one with
// NewBuilder; evolve it with Merge.
type Descriptor struct {
	fields      map[string]Field
	enumValues  map[string]int32
	typeName    string
	affinityKey string
	typeID      int32
	version     int32
	isEnum      bool
}

// TypeID returns the type identifier.
func (d *Descriptor) TypeID() int32 { return d.typeID }

// TypeName returns the type name.
func (d *Descriptor) TypeName() string { return d.typeName }

// AffinityKey returns the affinity key field name, or "".
func (d *Descriptor) AffinityKey() string { return d.affinityKey }

// Version starts at 1 and increases with every merge that adds something.
func (d *Descriptor) Version() int32 { return d.version }

// IsEnum reports whether the type is an enum.
func (d *Descriptor) IsEnum() bool { return d.isEnum }

// Field looks up a field by name.
func (d *Descriptor) Field(name string) (Field, bool) {
	f, ok := d.fields[name]
	return f, ok
}

// FieldNames returns the field names in sorted order.
func (d *Descriptor) FieldNames() []string {
	names := make([]string, 0, len(d.fields))
	for name := range d.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NumFields returns the number of fields.
func (d *Descriptor) NumFields() int { return len(d.fields) }

// EnumValue looks up an enum ordinal by name.
func (d *Descriptor) EnumValue(name string) (int32, bool) {
	v, ok := d.enumValues[name]
	return v, ok
}

// EnumNames returns the enum value names ordered by ordinal.
func (d *Descriptor) EnumNames() []string {
	names := make([]string, 0, len(d.enumValues))
	for name := range d.enumValues {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return d.enumValues[names[i]] < d.enumValues[names[j]]
	})
	return names
}

// Merge combines d with other, which must describe the same type. Fields
// and enum values are unioned. A field redeclared with a different type, an
// enum name bound to a different ordinal, or a changed affinity key is a
// conflict. When other adds nothing, d is returned with changed == false.
// Otherwise the result is newer than d but never newer than an other that
// already carries everything d has.
func (d *Descriptor) Merge(other *Descriptor) (merged *Descriptor, changed bool, err error) {
	if other == nil {
		return d, false, nil
	}
	if other.typeID != d.typeID {
		return nil, false, errors.New(errors.PhaseMetadata, errors.KindConflict).
			Path(d.typeName).Value(other.typeID).
			Detail("type id %d cannot merge into %d", other.typeID, d.typeID).Build()
	}
	if other.isEnum != d.isEnum {
		return nil, false, errors.Conflict(errors.PhaseMetadata, []string{d.typeName}, "enum flag differs")
	}

	affinity := d.affinityKey
	if other.affinityKey != "" && other.affinityKey != affinity {
		if affinity != "" {
			return nil, false, errors.Conflict(errors.PhaseMetadata, []string{d.typeName},
				"affinity key "+other.affinityKey+" conflicts with "+affinity)
		}
		affinity = other.affinityKey
		changed = true
	}

	for name, f := range other.fields {
		cur, ok := d.fields[name]
		if !ok {
			changed = true
			continue
		}
		if cur.TypeID != f.TypeID {
			return nil, false, errors.New(errors.PhaseMetadata, errors.KindConflict).
				Path(d.typeName, name).Value(f.TypeID).
				Detail("field type %d conflicts with %d", f.TypeID, cur.TypeID).Build()
		}
	}
	for name, v := range other.enumValues {
		cur, ok := d.enumValues[name]
		if !ok {
			changed = true
			continue
		}
		if cur != v {
			return nil, false, errors.New(errors.PhaseMetadata, errors.KindConflict).
				Path(d.typeName, name).Value(v).
				Detail("enum ordinal %d conflicts with %d", v, cur).Build()
		}
	}

	if !changed {
		return d, false, nil
	}

	out := d.clone()
	out.affinityKey = affinity
	for name, f := range other.fields {
		out.fields[name] = f
	}
	for name, v := range other.enumValues {
		out.enumValues[name] = v
	}
	out.version = max(d.version+1, other.version)
	return out, true, nil
}

func (d *Descriptor) clone() *Descriptor {
	out := *d
	out.fields = make(map[string]Field, len(d.fields))
	for k, v := range d.fields {
		out.fields[k] = v
	}
	out.enumValues = make(map[string]int32, len(d.enumValues))
	for k, v := range d.enumValues {
		out.enumValues[k] = v
	}
	return &out
}

// Builder assembles a Descriptor.
type Builder struct {
	d   Descriptor
	err error
}

// NewBuilder starts a descriptor for typeName with the derived type id.
func NewBuilder(typeName string) *Builder {
	return &Builder{d: Descriptor{
		fields:     make(map[string]Field),
		enumValues: make(map[string]int32),
		typeName:   typeName,
		typeID:     TypeID(typeName),
		version:    1,
	}}
}

// TypeID overrides the derived type id.
func (b *Builder) TypeID(id int32) *Builder {
	b.d.typeID = id
	return b
}

// AffinityKey sets the affinity key field name.
func (b *Builder) AffinityKey(name string) *Builder {
	b.d.affinityKey = name
	return b
}

// Version sets the starting version.
func (b *Builder) Version(v int32) *Builder {
	b.d.version = v
	return b
}

// Field adds a field with a derived field id.
func (b *Builder) Field(name string, typeID int32) *Builder {
	if cur, ok := b.d.fields[name]; ok && cur.TypeID != typeID && b.err == nil {
		b.err = errors.Conflict(errors.PhaseMetadata, []string{b.d.typeName, name}, "field declared twice with different types")
	}
	b.d.fields[name] = Field{TypeID: typeID, FieldID: FieldID(name)}
	return b
}

// EnumValue marks the type as an enum and adds a value.
func (b *Builder) EnumValue(name string, ordinal int32) *Builder {
	b.d.isEnum = true
	b.d.enumValues[name] = ordinal
	return b
}

// Build returns the descriptor. The builder must not be reused.
func (b *Builder) Build() (*Descriptor, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.d.typeName == "" {
		return nil, errors.InvalidInput(errors.PhaseMetadata, "type name is required")
	}
	if b.d.version < 1 {
		return nil, errors.InvalidInput(errors.PhaseMetadata, "version must be at least 1")
	}
	if b.d.affinityKey != "" {
		if _, ok := b.d.fields[b.d.affinityKey]; !ok {
			return nil, errors.Conflict(errors.PhaseMetadata, []string{b.d.typeName, b.d.affinityKey}, "affinity key is not a field")
		}
	}
	d := b.d
	return &d, nil
}

// MustBuild is Build for static descriptors; it panics on error.
func (b *Builder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
