// Package hotkernel implements the Hot execution kernel: branchless
// primitives over a fixed ≤8-triple working set, each guaranteed to
// complete within the 8-tick Hot budget.
package hotkernel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

// MaxSlots is the fixed capacity of a Hot-class structure-of-arrays.
const MaxSlots = 8

// Slots is the branchless working set: parallel arrays rather than a
// []Triple, so every primitive below is a fixed-length unrolled loop with
// no slice-growth, no allocation, and no data-dependent branch on length.
type Slots struct {
	Subject   [MaxSlots]string
	Predicate [MaxSlots]string
	Object    [MaxSlots]string
	Len       int // number of occupied slots, 0..MaxSlots
}

// Load copies up to MaxSlots triples into a fresh Slots value. More than
// MaxSlots items is a precondition violation, reported as
// CodeBudgetExceeded with an empty working set — Warm/Cold own larger
// working sets; Hot never sees more than 8, and an overrun is never
// silently truncated. Mismatched column lengths are the same violation.
func Load(subjects, predicates, objects []string) (Slots, Code) {
	var s Slots
	n := len(subjects)
	if n > MaxSlots {
		return s, CodeBudgetExceeded
	}
	if len(predicates) != n || len(objects) != n {
		return s, CodeBudgetExceeded
	}
	for i := 0; i < n; i++ {
		s.Subject[i] = subjects[i]
		s.Predicate[i] = predicates[i]
		s.Object[i] = objects[i]
	}
	s.Len = n
	return s, CodeOK
}

// Code is a compact numeric discriminant returned on the Hot success
// path, which never allocates an error interface. Rich errors are
// constructed only at the Warm/Cold/API boundary, from a Code.
type Code int

const (
	CodeOK Code = iota
	CodeNotFound
	CodeBudgetExceeded
	CodeTypeMismatch
	CodeNotUnique
	CodeBadPrimitive
)

// Primitive identifies one kernel primitive. Receipts and the dispatch
// table are indexed by it; no virtual dispatch.
type Primitive uint8

const (
	PrimAskSP Primitive = iota
	PrimAskSPO
	PrimAskOP
	PrimCountSPGE
	PrimCountSPLE
	PrimCountSPEQ
	PrimCompareOEQ
	PrimCompareOGT
	PrimCompareOLT
	PrimValidateDatatypeSP
	PrimValidateDatatypeSPO
	PrimUniqueSP
)

// Args is the uniform argument record every dispatch-table entry reads
// from. Each primitive consumes only the fields it names; the rest stay
// zero.
type Args struct {
	Subject   string
	Predicate string
	Object    string
	Value     string
	N         int
	Datatype  Datatype
}

var dispatch = [...]func(*Slots, Args) (bool, Code){
	PrimAskSP:               func(s *Slots, a Args) (bool, Code) { return AskSP(s, a.Subject, a.Predicate) },
	PrimAskSPO:              func(s *Slots, a Args) (bool, Code) { return AskSPO(s, a.Subject, a.Predicate, a.Object) },
	PrimAskOP:               func(s *Slots, a Args) (bool, Code) { return AskOP(s, a.Object, a.Predicate) },
	PrimCountSPGE:           func(s *Slots, a Args) (bool, Code) { return CountSPGE(s, a.Subject, a.Predicate, a.N) },
	PrimCountSPLE:           func(s *Slots, a Args) (bool, Code) { return CountSPLE(s, a.Subject, a.Predicate, a.N) },
	PrimCountSPEQ:           func(s *Slots, a Args) (bool, Code) { return CountSPEQ(s, a.Subject, a.Predicate, a.N) },
	PrimCompareOEQ:          func(s *Slots, a Args) (bool, Code) { return CompareOEQ(s, a.Subject, a.Predicate, a.Value) },
	PrimCompareOGT:          func(s *Slots, a Args) (bool, Code) { return CompareOGT(s, a.Subject, a.Predicate, a.Value) },
	PrimCompareOLT:          func(s *Slots, a Args) (bool, Code) { return CompareOLT(s, a.Subject, a.Predicate, a.Value) },
	PrimValidateDatatypeSP:  func(s *Slots, a Args) (bool, Code) { return ValidateDatatypeSP(s, a.Subject, a.Predicate, a.Datatype) },
	PrimValidateDatatypeSPO: func(s *Slots, a Args) (bool, Code) { return ValidateDatatypeSPO(s, a.Subject, a.Predicate, a.Object, a.Datatype) },
	PrimUniqueSP:            func(s *Slots, a Args) (bool, Code) { return UniqueSP(s, a.Subject, a.Predicate) },
}

// Call runs a primitive through the fixed dispatch table.
func Call(p Primitive, s *Slots, a Args) (bool, Code) {
	if int(p) >= len(dispatch) {
		return false, CodeBadPrimitive
	}
	return dispatch[p](s, a)
}

// MuHash is the mu-hash side of a Hot receipt: the digest of the
// primitive identity, the snapshot the call was evaluated against, the
// working set, and the arguments. Re-running the same call always yields
// the same MuHash.
func MuHash(p Primitive, snapshotID digest.Digest, s *Slots, a Args) digest.Digest {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(p)))
	b.WriteByte('|')
	b.WriteString(string(snapshotID))
	for i := 0; i < s.Len; i++ {
		b.WriteByte('|')
		b.WriteString(s.Subject[i])
		b.WriteByte('\t')
		b.WriteString(s.Predicate[i])
		b.WriteByte('\t')
		b.WriteString(s.Object[i])
	}
	fmt.Fprintf(&b, "|%s\t%s\t%s\t%s\t%d\t%d", a.Subject, a.Predicate, a.Object, a.Value, a.N, a.Datatype)
	return digest.FromString(b.String())
}

// ActionHash is the action side of a Hot receipt: the digest of the
// primitive's fixed-size result.
func ActionHash(result bool, code Code) digest.Digest {
	return digest.FromString(strconv.FormatBool(result) + "|" + strconv.Itoa(int(code)))
}

// AskSP reports (branchless, fixed-length scan) whether any occupied slot
// matches (subject, predicate).
func AskSP(s *Slots, subject, predicate string) (bool, Code) {
	found := false
	for i := 0; i < MaxSlots; i++ {
		match := i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate
		found = found || match
	}
	return found, CodeOK
}

// AskSPO reports whether the exact triple is present.
func AskSPO(s *Slots, subject, predicate, object string) (bool, Code) {
	found := false
	for i := 0; i < MaxSlots; i++ {
		match := i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate && s.Object[i] == object
		found = found || match
	}
	return found, CodeOK
}

// AskOP reports whether any occupied slot matches (object, predicate).
func AskOP(s *Slots, object, predicate string) (bool, Code) {
	found := false
	for i := 0; i < MaxSlots; i++ {
		match := i < s.Len && s.Object[i] == object && s.Predicate[i] == predicate
		found = found || match
	}
	return found, CodeOK
}

// countSP returns the number of occupied slots matching (subject, predicate).
func countSP(s *Slots, subject, predicate string) int {
	count := 0
	for i := 0; i < MaxSlots; i++ {
		match := i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate
		if match {
			count++
		}
	}
	return count
}

// CountSPGE reports whether the count of (subject, predicate) matches is >= threshold.
func CountSPGE(s *Slots, subject, predicate string, threshold int) (bool, Code) {
	return countSP(s, subject, predicate) >= threshold, CodeOK
}

// CountSPLE reports whether the count of (subject, predicate) matches is <= threshold.
func CountSPLE(s *Slots, subject, predicate string, threshold int) (bool, Code) {
	return countSP(s, subject, predicate) <= threshold, CodeOK
}

// CountSPEQ reports whether the count of (subject, predicate) matches equals n.
func CountSPEQ(s *Slots, subject, predicate string, n int) (bool, Code) {
	return countSP(s, subject, predicate) == n, CodeOK
}

// CompareOEQ reports whether (subject, predicate)'s object equals value.
// Returns CodeNotFound if no such pair is occupied.
func CompareOEQ(s *Slots, subject, predicate, value string) (bool, Code) {
	for i := 0; i < MaxSlots; i++ {
		if i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate {
			return s.Object[i] == value, CodeOK
		}
	}
	return false, CodeNotFound
}

// CompareOGT reports whether (subject, predicate)'s object sorts strictly
// after value under byte-lexicographic order.
func CompareOGT(s *Slots, subject, predicate, value string) (bool, Code) {
	for i := 0; i < MaxSlots; i++ {
		if i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate {
			return s.Object[i] > value, CodeOK
		}
	}
	return false, CodeNotFound
}

// CompareOLT reports whether (subject, predicate)'s object sorts strictly
// before value under byte-lexicographic order.
func CompareOLT(s *Slots, subject, predicate, value string) (bool, Code) {
	for i := 0; i < MaxSlots; i++ {
		if i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate {
			return s.Object[i] < value, CodeOK
		}
	}
	return false, CodeNotFound
}

// Datatype is a coarse value-shape classifier for VALIDATE_DATATYPE.
type Datatype int

const (
	DatatypeAny Datatype = iota
	DatatypeIRI
	DatatypeString
	DatatypeInteger
	DatatypeBoolean
)

func matchesDatatype(v string, dt Datatype) bool {
	switch dt {
	case DatatypeAny:
		return true
	case DatatypeIRI:
		return len(v) > 0 && (v[0] == ':' || containsColon(v))
	case DatatypeBoolean:
		return v == "true" || v == "false"
	case DatatypeInteger:
		if v == "" {
			return false
		}
		start := 0
		if v[0] == '-' {
			start = 1
		}
		if start == len(v) {
			return false
		}
		for i := start; i < len(v); i++ {
			if v[i] < '0' || v[i] > '9' {
				return false
			}
		}
		return true
	case DatatypeString:
		return true
	default:
		return false
	}
}

func containsColon(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] == ':' {
			return true
		}
	}
	return false
}

// ValidateDatatypeSP checks that every occupied slot matching (subject,
// predicate) has an object conforming to dt.
func ValidateDatatypeSP(s *Slots, subject, predicate string, dt Datatype) (bool, Code) {
	ok := true
	matched := false
	for i := 0; i < MaxSlots; i++ {
		if i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate {
			matched = true
			ok = ok && matchesDatatype(s.Object[i], dt)
		}
	}
	if !matched {
		return false, CodeNotFound
	}
	if !ok {
		return false, CodeTypeMismatch
	}
	return true, CodeOK
}

// ValidateDatatypeSPO checks the single exact triple's object datatype.
func ValidateDatatypeSPO(s *Slots, subject, predicate, object string, dt Datatype) (bool, Code) {
	for i := 0; i < MaxSlots; i++ {
		if i < s.Len && s.Subject[i] == subject && s.Predicate[i] == predicate && s.Object[i] == object {
			if matchesDatatype(object, dt) {
				return true, CodeOK
			}
			return false, CodeTypeMismatch
		}
	}
	return false, CodeNotFound
}

// UniqueSP reports whether (subject, predicate) has at most one occupied match.
func UniqueSP(s *Slots, subject, predicate string) (bool, Code) {
	if countSP(s, subject, predicate) > 1 {
		return false, CodeNotUnique
	}
	return true, CodeOK
}

// Budget is the hard Hot-class tick ceiling every primitive above is
// designed to stay within.
const Budget = clock.HotBudget
