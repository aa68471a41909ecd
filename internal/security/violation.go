package security

import "fmt"

// ViolationKind classifies a containment violation.
type ViolationKind string

const (
	ViolationPath    ViolationKind = "path"
	ViolationBinary  ViolationKind = "binary"
	ViolationArg     ViolationKind = "argument"
	ViolationSig     ViolationKind = "signature"
)

// Violation is a containment failure: always fatal to the call that caused
// it, never silently degraded.
type Violation struct {
	Kind   ViolationKind
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("containment violation (%s): %s", v.Kind, v.Detail)
}
