package failclosed

import "github.com/google/uuid"

// canonicalUUIDLen is the length of the lowercase 8-4-4-4-12 form.
const canonicalUUIDLen = 36

// CanonicalUUID parses raw and insists it is already in canonical form:
// lowercase hex, hyphenated, no braces or urn prefix. Anything else fails
// closed rather than being silently normalised.
func CanonicalUUID(raw string) (uuid.UUID, error) {
	if len(raw) != canonicalUUIDLen {
		return uuid.Nil, Newf(CodeUUIDCanonicalization, "uuid %q has length %d", raw, len(raw))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, Newf(CodeUUIDCanonicalization, "uuid %q: %v", raw, err)
	}
	if id.String() != raw {
		return uuid.Nil, Newf(CodeUUIDCanonicalization, "uuid %q is not canonical", raw)
	}
	return id, nil
}
