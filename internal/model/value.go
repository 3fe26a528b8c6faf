package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValueKind tags the scalar carried by a Value.
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindText   ValueKind = "text"
)

// Value is a merged field value: either a decimal number or a text string.
type Value struct {
	Kind   ValueKind       `json:"kind"`
	Number decimal.Decimal `json:"number,omitzero"`
	Text   string          `json:"text,omitempty"`
}

// Number builds a numeric Value.
func Number(d decimal.Decimal) Value {
	return Value{Kind: KindNumber, Number: d}
}

// Text builds a text Value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// IsNumeric reports whether v holds a number.
func (v Value) IsNumeric() bool { return v.Kind == KindNumber }

// Equal compares kind and content; numbers compare by value, so 1.50 equals 1.5.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindNumber {
		return v.Number.Equal(o.Number)
	}
	return v.Text == o.Text
}

func (v Value) String() string {
	if v.Kind == KindNumber {
		return v.Number.String()
	}
	return v.Text
}

// FieldValue is the resolved value of one record field together with its provenance.
type FieldValue struct {
	Key        string    `json:"key"`
	Value      Value     `json:"value"`
	Source     Source    `json:"source"`
	FetchedAt  time.Time `json:"fetched_at"`
	ResultID   string    `json:"result_id"`
	Confidence float64   `json:"confidence"`
	Stale      bool      `json:"stale"`

	// Alternatives holds distinct conflicting text values that lost resolution.
	// Numeric fields never carry alternatives.
	Alternatives []FieldValue `json:"alternatives,omitempty"`
}

// Clone returns a deep copy of fv.
func (fv FieldValue) Clone() FieldValue {
	out := fv
	if fv.Alternatives != nil {
		out.Alternatives = make([]FieldValue, len(fv.Alternatives))
		for i, a := range fv.Alternatives {
			out.Alternatives[i] = a.Clone()
		}
	}
	return out
}
