package genome

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"ruleforge/internal/model"
)

// Signature is a deterministic fingerprint of a genome's rule content,
// independent of its ID. Equal rule sets produce equal fingerprints, which
// the monitor uses for population diversity diagnostics.
func Signature(g model.Genome) string {
	h := sha256.New()
	var buf [4]byte
	for _, cr := range g.Categories {
		buf[0] = byte(cr.Category)
		binary.BigEndian.PutUint16(buf[1:3], uint16(len(cr.Rules)))
		h.Write(buf[:3])
		for _, rule := range cr.Rules {
			for _, slot := range rule.Pattern {
				h.Write([]byte{byte(slot)})
			}
			h.Write([]byte{byte(rule.Outcome)})
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// Equal reports whether two genomes carry the same rules in the same order,
// ignoring IDs.
func Equal(a, b model.Genome) bool {
	if len(a.Categories) != len(b.Categories) {
		return false
	}
	for i := range a.Categories {
		ca, cb := a.Categories[i], b.Categories[i]
		if ca.Category != cb.Category || len(ca.Rules) != len(cb.Rules) {
			return false
		}
		for j := range ca.Rules {
			if ca.Rules[j] != cb.Rules[j] {
				return false
			}
		}
	}
	return true
}
