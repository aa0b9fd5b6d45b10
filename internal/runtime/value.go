package runtime

import (
	"strconv"
	"strings"

	"github.com/modlink/modlink/internal/ast"
)

// A run-time value. Functions and classes only have an identity and a name.
// Objects are shared by reference.
type Value struct {
	text   string
	fn     *function
	object *Object
	number float64
	bool   bool
	kind   ast.ValueKind
}

type function struct {
	name string
}

var undefined = Value{}

func numberValue(number float64) Value { return Value{kind: ast.ValueNumber, number: number} }
func objectValue(object *Object) Value { return Value{kind: ast.ValueObject, object: object} }

func (v Value) Kind() ast.ValueKind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == ast.ValueUndefined }

// The name a reflective query of a function or class reports
func (v Value) Name() (string, bool) {
	if v.fn == nil {
		return "", false
	}
	return v.fn.name, true
}

// Property access. Anything other than an object has no properties here.
func (v Value) Get(key string) Value {
	if v.object == nil {
		return undefined
	}
	return v.object.Get(key)
}

// Values are compared the way "===" compares them
func (v Value) Is(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case ast.ValueNumber:
		return v.number == other.number
	case ast.ValueString:
		return v.text == other.text
	case ast.ValueBool:
		return v.bool == other.bool
	case ast.ValueFunction, ast.ValueClass:
		return v.fn == other.fn
	case ast.ValueObject:
		return v.object == other.object
	}
	return true
}

func (v Value) String() string {
	sb := strings.Builder{}
	v.format(&sb, make(map[*Object]bool))
	return sb.String()
}

func (v Value) format(sb *strings.Builder, seen map[*Object]bool) {
	switch v.kind {
	case ast.ValueNumber:
		sb.WriteString(strconv.FormatFloat(v.number, 'g', -1, 64))
	case ast.ValueString:
		sb.WriteString(strconv.Quote(v.text))
	case ast.ValueBool:
		sb.WriteString(strconv.FormatBool(v.bool))
	case ast.ValueFunction:
		sb.WriteString("[Function]")
	case ast.ValueClass:
		sb.WriteString("[Class]")
	case ast.ValueObject:
		if seen[v.object] {
			sb.WriteString("[Circular]")
			return
		}
		seen[v.object] = true
		sb.WriteByte('{')
		for i, key := range v.object.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(key)
			sb.WriteString(": ")
			v.object.Get(key).format(sb, seen)
		}
		sb.WriteByte('}')
		delete(seen, v.object)
	default:
		sb.WriteString("undefined")
	}
}

// Turns a literal from the source into a fresh value. Every evaluation of a
// function literal creates a new function.
func fromLiteral(literal ast.Value, name string) Value {
	switch literal.Kind {
	case ast.ValueNumber:
		return numberValue(literal.Number)
	case ast.ValueString:
		return Value{kind: ast.ValueString, text: literal.Text}
	case ast.ValueBool:
		return Value{kind: ast.ValueBool, bool: literal.Bool}
	case ast.ValueFunction, ast.ValueClass:
		return Value{kind: literal.Kind, fn: &function{name: name}}
	case ast.ValueObject:
		object := newObject()
		for _, field := range literal.Fields {
			object.Set(field.Key, fromLiteral(field.Value, field.Value.Text))
		}
		return objectValue(object)
	}
	return undefined
}

type property struct {
	value Value

	// Namespace objects read through to the binding on every access
	get func() Value
}

// Keys are kept in insertion order like JavaScript objects
type Object struct {
	props map[string]property
	keys  []string

	// Consulted for keys this object doesn't have, except for "default".
	// These are the targets of "export *" that can only be resolved at run
	// time.
	fallbacks []func() Value

	// Guards against fallbacks that lead back to this object
	visiting bool
}

func newObject() *Object {
	return &Object{props: make(map[string]property)}
}

func (o *Object) Set(key string, value Value) {
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = property{value: value}
}

func (o *Object) define(key string, get func() Value) {
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = property{get: get}
}

func (o *Object) Get(key string) Value {
	if prop, ok := o.props[key]; ok {
		if prop.get != nil {
			return prop.get()
		}
		return prop.value
	}
	if key == "default" || o.visiting || len(o.fallbacks) == 0 {
		return undefined
	}

	o.visiting = true
	defer func() { o.visiting = false }()
	for _, fallback := range o.fallbacks {
		if target := fallback(); target.object != nil && target.object.Has(key) {
			return target.object.Get(key)
		}
	}
	return undefined
}

func (o *Object) Has(key string) bool {
	if _, ok := o.props[key]; ok {
		return true
	}
	for _, key2 := range o.fallbackKeys() {
		if key2 == key {
			return true
		}
	}
	return false
}

// Own keys first, then any keys the fallbacks provide
func (o *Object) Keys() []string {
	keys := append([]string{}, o.keys...)
	return append(keys, o.fallbackKeys()...)
}

func (o *Object) fallbackKeys() []string {
	if o.visiting || len(o.fallbacks) == 0 {
		return nil
	}
	o.visiting = true
	defer func() { o.visiting = false }()

	var keys []string
	seen := make(map[string]bool, len(o.keys))
	for _, key := range o.keys {
		seen[key] = true
	}
	for _, fallback := range o.fallbacks {
		target := fallback()
		if target.object == nil {
			continue
		}
		for _, key := range target.object.Keys() {
			if key != "default" && !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}
