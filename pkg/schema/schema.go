// Package schema validates configuration objects against declarative
// schemas, applies defaults, and reports JSON-Pointer-annotated errors.
// Schemas are declared as a plain Go tree (Kind/Required/Default/Allowed/
// Pattern/Properties/Items) and compiled to CUE under the hood, the way
// the teacher's config.SchemaRegistry compiles its fixed built-in schemas
// — generalized here to an arbitrary caller-supplied schema tree instead
// of a handful of hardcoded ones.
package schema

// Kind is the declarative type of a schema node.
type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindAny     Kind = "any"
)

// Schema is a declarative validation node. A Schema tree describes the
// shape of a configuration object: KindObject nodes carry Properties,
// KindArray nodes carry Items, and leaf kinds carry Pattern/Allowed/
// Default constraints.
type Schema struct {
	Kind        Kind
	Description string

	// Required marks this schema's value as mandatory within its parent
	// object's Properties map. Meaningless at the root.
	Required bool

	// Default, when set, is applied when the value is absent. Mutually
	// exclusive with Required in practice (a required field with a
	// default is always satisfied, which is allowed but redundant).
	Default interface{}

	// Allowed restricts the value to one of a fixed set (an enum).
	Allowed []interface{}

	// Pattern is a regular expression the value must match. Only
	// meaningful for KindString; ignored otherwise.
	Pattern string

	// Properties holds child schemas for KindObject.
	Properties map[string]*Schema

	// Items is the element schema for KindArray.
	Items *Schema
}

// Object is a convenience constructor for an object schema.
func Object(properties map[string]*Schema) *Schema {
	return &Schema{Kind: KindObject, Properties: properties}
}

// Array is a convenience constructor for an array schema.
func Array(items *Schema) *Schema {
	return &Schema{Kind: KindArray, Items: items}
}

// String is a convenience constructor for a string schema.
func String() *Schema { return &Schema{Kind: KindString} }

// Number is a convenience constructor for a number schema.
func Number() *Schema { return &Schema{Kind: KindNumber} }

// Boolean is a convenience constructor for a boolean schema.
func Boolean() *Schema { return &Schema{Kind: KindBoolean} }

// Any accepts any concrete value without further constraint.
func Any() *Schema { return &Schema{Kind: KindAny} }
