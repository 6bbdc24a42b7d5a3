package raw

import (
	"fmt"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the closed set of raw PDF values. The concrete types in this
// package are the only implementations; callers dispatch with a type switch.
type Object interface {
	Type() string
	IsIndirect() bool
	isObject()
}

// Dictionary is the read side of a PDF dictionary.
type Dictionary interface {
	Object
	Get(key string) (Object, bool)
	Keys() []string
	Len() int
}

// Stream represents a raw (undecoded) PDF stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// DocumentMetadata contains common PDF info fields.
type DocumentMetadata struct {
	Producer string
	Creator  string
	Title    string
	Author   string
	Subject  string
	Keywords []string
}
