package artifact

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/umputun/arbor/app/errs"
)

const maxReprLen = 200

// PayloadKind is a tag of the payload variant
type PayloadKind string

// payload kinds
const (
	KindStructured PayloadKind = "structured"
	KindOpaque     PayloadKind = "opaque"
)

// Payload is a tagged variant of artifact data: a structured (JSON representable) value,
// or an opaque gob blob with a short description of the original value.
// Opaque blobs go through the store untouched and are rendered as descriptive metadata in JSON.
type Payload struct {
	Kind   PayloadKind
	Value  any          // set for KindStructured
	Opaque *OpaqueValue // set for KindOpaque
}

// OpaqueValue keeps encoded value which can't be represented as JSON
type OpaqueValue struct {
	TypeName string
	Module   string
	Repr     string
	Blob     []byte
}

// opaqueInfo is what clients see in place of an opaque value
type opaqueInfo struct {
	Type   string `json:"type"`
	Module string `json:"module,omitempty"`
	Repr   string `json:"repr"`
	Size   int    `json:"size"`
}

// Structured makes payload for JSON representable value
func Structured(v any) Payload {
	return Payload{Kind: KindStructured, Value: v}
}

// Opaque gob-encodes v and makes opaque payload keeping its type name, package and representation
func Opaque(v any) (Payload, error) {
	buf := bytes.Buffer{}
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return Payload{}, fmt.Errorf("can't encode %T: %v: %w", v, err, errs.ErrValidation)
	}
	typeName, module := describeType(v)
	return Payload{Kind: KindOpaque, Opaque: &OpaqueValue{TypeName: typeName, Module: module,
		Repr: repr(v), Blob: buf.Bytes()}}, nil
}

// Normalize makes payload ready to store. Structured value which can't be encoded as JSON
// converted to opaque, value which can't be encoded at all is a validation error.
func (p Payload) Normalize() (Payload, error) {
	switch p.Kind {
	case KindOpaque:
		if p.Opaque == nil {
			return Payload{}, fmt.Errorf("opaque payload without value: %w", errs.ErrValidation)
		}
		return p, nil
	case KindStructured, "":
		if _, err := json.Marshal(p.Value); err == nil {
			return Structured(p.Value), nil
		}
		return Opaque(p.Value)
	default:
		return Payload{}, fmt.Errorf("unknown payload kind %q: %w", p.Kind, errs.ErrValidation)
	}
}

// Decode unpacks payload into target. Structured values go through JSON, opaque blobs through gob.
func (p Payload) Decode(target any) error {
	if p.Kind == KindOpaque {
		if p.Opaque == nil {
			return fmt.Errorf("empty opaque payload")
		}
		if err := gob.NewDecoder(bytes.NewReader(p.Opaque.Blob)).Decode(target); err != nil {
			return fmt.Errorf("can't decode opaque payload %s: %w", p.Opaque.TypeName, err)
		}
		return nil
	}
	data, err := json.Marshal(p.Value)
	if err != nil {
		return fmt.Errorf("can't marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("can't unmarshal payload: %w", err)
	}
	return nil
}

// MarshalJSON renders structured value as is and opaque value as descriptive metadata
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Kind == KindOpaque && p.Opaque != nil {
		return json.Marshal(opaqueInfo{Type: p.Opaque.TypeName, Module: p.Opaque.Module,
			Repr: p.Opaque.Repr, Size: len(p.Opaque.Blob)})
	}
	data, err := json.Marshal(p.Value)
	if err != nil {
		// not stored yet, so never normalized. degrade to description instead of failing the response
		typeName, module := describeType(p.Value)
		return json.Marshal(opaqueInfo{Type: typeName, Module: module, Repr: repr(p.Value)})
	}
	return data, nil
}

// UnmarshalJSON reads any JSON value as structured payload
func (p *Payload) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Structured(v)
	return nil
}

func describeType(v any) (typeName, module string) {
	if v == nil {
		return "nil", ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return fmt.Sprintf("%T", v), t.PkgPath()
}

func repr(v any) string {
	res := fmt.Sprintf("%+v", v)
	if len(res) <= maxReprLen {
		return res
	}
	cut := maxReprLen
	for cut > 0 && !utf8.RuneStart(res[cut]) {
		cut--
	}
	return res[:cut] + "..."
}
