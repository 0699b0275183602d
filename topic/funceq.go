package topic

import "reflect"

// funcPointerEqual compares two callbacks by code pointer. It is only a
// secondary signal for Source.Equal — nil-vs-nil and identical closures over
// the same underlying function compare equal; distinct closures over the
// same function body do not reliably compare unequal, which is why Ctx
// identity is the primary key.
func funcPointerEqual(a, b Callback) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
