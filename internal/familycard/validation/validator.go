package validation

// Validate runs every layer and unions their findings.
func Validate(in Input, rules Rules) Result {
	return Merge(
		Structural(in),
		CrossReference(in, rules),
		Temporal(in, rules),
		BusinessRules(in, rules),
	)
}
