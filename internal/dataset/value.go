package dataset

import (
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the scalar stored in a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindNumber
	KindTime
	KindBool
	KindString
)

// Value is a single cell. The zero Value is null.
type Value struct {
	kind ValueKind
	num  float64
	str  string
	t    time.Time
	b    bool
}

func Null() Value { return Value{} }

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Num() float64 { return v.num }

func (v Value) Str() string { return v.str }

func (v Value) TimeVal() time.Time { return v.t }

func (v Value) BoolVal() bool { return v.b }

// Float converts numbers and bools to float64.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// String renders the value the way samples and exports show it. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		if v.t.Hour() == 0 && v.t.Minute() == 0 && v.t.Second() == 0 && v.t.Nanosecond() == 0 {
			return v.t.Format("2006-01-02")
		}
		return v.t.Format(time.RFC3339)
	}
	return ""
}

// Any returns the value as a plain Go value for JSON encoding.
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindTime:
		return v.String()
	}
	return nil
}

// Equal reports whether two values hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}

// key is a kind-qualified string used for hashing rows and distinct counts.
func (v Value) key() string {
	switch v.kind {
	case KindNull:
		return "\x00"
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindTime:
		return "t:" + strconv.FormatInt(v.t.UnixNano(), 10)
	case KindBool:
		return "b:" + strconv.FormatBool(v.b)
	}
	return "s:" + v.str
}

// Key returns a stable identity string for v; equal values share a key.
func (v Value) Key() string { return v.key() }

// Compare orders values: nulls first, then numbers, times, bools, strings.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
	case KindTime:
		return a.t.Compare(b.t)
	case KindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindString:
		return strings.Compare(a.str, b.str)
	}
	return 0
}
