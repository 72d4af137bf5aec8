// Package reflectutil provides small reflection helpers shared by the
// response decoding code.
package reflectutil

import (
	"reflect"
	"strconv"
)

// IsTrue parses a string as a boolean value.
// Returns true if the string represents a true value, false otherwise.
// Ignores parsing errors and returns false as the default.
func IsTrue(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// UnwrapToConcreteValue unwraps pointers and interfaces to get to the
// concrete value. Returns the concrete value, or an invalid reflect.Value
// if a nil pointer or interface is encountered on the way.
//
// Example:
//
//	var x **int
//	v := reflect.ValueOf(x)
//	concrete := UnwrapToConcreteValue(v) // returns the int value (if not nil)
func UnwrapToConcreteValue(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

