package models

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrInvalidTriState is returned when a tri-state value is neither 1, 0 nor NULL.
var ErrInvalidTriState = errors.New("tri-state value must be 1, 0 or NULL")

// TriState is a true/false/unknown flag persisted as INTEGER 1/0/NULL.
// Callers must normalize booleans through this type before any write; the
// store never accepts a language-native bool for tri-state columns.
type TriState struct {
	sql.NullInt64
}

// TriStateTrue returns a TriState set to true (1).
func TriStateTrue() TriState {
	return TriState{sql.NullInt64{Int64: 1, Valid: true}}
}

// TriStateFalse returns a TriState set to false (0).
func TriStateFalse() TriState {
	return TriState{sql.NullInt64{Int64: 0, Valid: true}}
}

// TriStateUnknown returns a TriState that persists as NULL.
func TriStateUnknown() TriState {
	return TriState{}
}

// TriStateFromBool normalizes an optional boolean. A nil pointer maps to
// unknown (NULL), never to false.
func TriStateFromBool(b *bool) TriState {
	if b == nil {
		return TriStateUnknown()
	}
	if *b {
		return TriStateTrue()
	}
	return TriStateFalse()
}

// Validate checks the 1/0/NULL invariant.
func (t TriState) Validate() error {
	if t.Valid && t.Int64 != 0 && t.Int64 != 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidTriState, t.Int64)
	}
	return nil
}

// IsTrue reports whether the flag is known true.
func (t TriState) IsTrue() bool {
	return t.Valid && t.Int64 == 1
}

// Bool returns the flag as an optional boolean (nil when unknown).
func (t TriState) Bool() *bool {
	if !t.Valid {
		return nil
	}
	b := t.Int64 == 1
	return &b
}

// Value implements driver.Valuer, rejecting out-of-range integers so a bad
// value can never reach the database.
func (t TriState) Value() (driver.Value, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return t.Int64, nil
}

// Scan implements sql.Scanner with the same range check on the way out.
func (t *TriState) Scan(value interface{}) error {
	if err := t.NullInt64.Scan(value); err != nil {
		return err
	}
	return t.Validate()
}

// MarshalJSON emits 1, 0 or null, matching the persisted representation.
func (t TriState) MarshalJSON() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !t.Valid {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%d", t.Int64)), nil
}

// UnmarshalJSON accepts true/false, 1/0 and null, normalizing booleans at
// the boundary so downstream code only ever sees 1/0/NULL.
func (t *TriState) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = TriStateUnknown()
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("1")):
		*t = TriStateTrue()
	case bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("0")):
		*t = TriStateFalse()
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTriState, string(data))
	}
	return nil
}
