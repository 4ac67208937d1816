package validation

import (
	"dukcapil/internal/familycard/event"
)

// CrossReference checks that reporter, witness and parent NIKs resolve
// through the index. Unresolved references are warnings unless
// rules.StrictReferences is set.
func CrossReference(in Input, rules Rules) Result {
	var r Result
	if in.Payload == nil || in.Index == nil {
		return r.done()
	}
	refs := in.Payload.References()
	if b, ok := in.Payload.(event.BirthPayload); ok {
		refs = append(refs, b.FatherNIK, b.MotherNIK)
	}
	seen := make(map[string]struct{}, len(refs))
	for _, nik := range refs {
		if nik == "" {
			continue
		}
		if _, dup := seen[string(nik)]; dup {
			continue
		}
		seen[string(nik)] = struct{}{}
		if _, ok := in.Index.Lookup(nik); ok {
			continue
		}
		if rules.StrictReferences {
			r.failf("%s: referenced nik %s is not registered", in.Payload.Type(), nik)
		} else {
			r.warnf("%s: referenced nik %s is not registered", in.Payload.Type(), nik)
		}
	}
	return r.done()
}
