package ownership

// Decision is the tagged result of the ownership gate. Keeping it a value
// rather than a bare bool forces call sites to carry the denial reason along
// instead of branching ad hoc.
type Decision struct {
	Allowed bool
	Reason  string
}

// Check is the single ownership gate used before every mutating operation on
// an owned entity. Pure: it only compares already-loaded state.
func Check(identity, ownerID string) Decision {
	if identity == "" {
		return Decision{Reason: "missing identity"}
	}

	if ownerID == "" {
		return Decision{Reason: "entity has no owner"}
	}

	if identity != ownerID {
		return Decision{Reason: "identity is not the owner"}
	}

	return Decision{Allowed: true}
}
