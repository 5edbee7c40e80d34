package authz

// Decision is the outcome of evaluating Attributes against a Context.
type Decision struct {
	Allowed bool
	Reason  string
	// Rule names which evaluation-order rule decided the outcome, for
	// logging (e.g. "disabled", "allow_anonymous_marker", "require_role").
	Rule string
}

func allow(rule string) Decision { return Decision{Allowed: true, Rule: rule} }

func deny(rule, reason string) Decision {
	return Decision{Allowed: false, Reason: reason, Rule: rule}
}
