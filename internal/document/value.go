package document

import (
	"github.com/dmitrijs2005/gokdbx/internal/protected"
)

// Value is an entry field value: either plain text or a protected secret.
// The zero Value is empty plain text.
type Value struct {
	plain  string
	secret *protected.Value
}

// Plain wraps unprotected text.
func Plain(s string) Value { return Value{plain: s} }

// Protect wraps a secret. A nil secret is stored as an empty one.
func Protect(p *protected.Value) Value {
	if p == nil {
		p = protected.FromString("")
	}
	return Value{secret: p}
}

// ProtectString obfuscates s right away.
func ProtectString(s string) Value { return Protect(protected.FromString(s)) }

func (v Value) IsProtected() bool { return v.secret != nil }

// Text returns the plain text, decoding protected values on each call.
func (v Value) Text() string {
	if v.secret != nil {
		return v.secret.Text()
	}
	return v.plain
}

// Secret returns the protected value, or nil for plain text.
func (v Value) Secret() *protected.Value { return v.secret }

// Len is the value size in bytes.
func (v Value) Len() int {
	if v.secret != nil {
		return v.secret.Len()
	}
	return len(v.plain)
}

// Equal compares protection and decoded content.
func (v Value) Equal(o Value) bool {
	if v.IsProtected() != o.IsProtected() {
		return false
	}
	if v.secret != nil {
		return v.secret.Equal(o.secret)
	}
	return v.plain == o.plain
}

func (v Value) Clone() Value {
	if v.secret != nil {
		return Value{secret: v.secret.Clone()}
	}
	return v
}

// String never reveals protected content.
func (v Value) String() string {
	if v.secret != nil {
		return v.secret.String()
	}
	return v.plain
}

// Field is one named entry value.
type Field struct {
	Key   string
	Value Value
}

// Fields keeps entry fields in declaration order. The inner stream walks
// protected values in this order, so it is preserved through load and save.
type Fields []Field

func (f Fields) index(key string) int {
	for i := range f {
		if f[i].Key == key {
			return i
		}
	}
	return -1
}

func (f Fields) Get(key string) (Value, bool) {
	if i := f.index(key); i >= 0 {
		return f[i].Value, true
	}
	return Value{}, false
}

// Text returns the decoded value of key, or "".
func (f Fields) Text(key string) string {
	v, _ := f.Get(key)
	return v.Text()
}

// Set replaces key in place or appends it.
func (f *Fields) Set(key string, v Value) {
	if i := f.index(key); i >= 0 {
		(*f)[i].Value = v
		return
	}
	*f = append(*f, Field{Key: key, Value: v})
}

func (f *Fields) Delete(key string) bool {
	i := f.index(key)
	if i < 0 {
		return false
	}
	*f = append((*f)[:i], (*f)[i+1:]...)
	return true
}

func (f Fields) Keys() []string {
	out := make([]string, len(f))
	for i := range f {
		out[i] = f[i].Key
	}
	return out
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for i := range f {
		out[i] = Field{Key: f[i].Key, Value: f[i].Value.Clone()}
	}
	return out
}
