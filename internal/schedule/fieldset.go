package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldSet is a small bitset of permitted integer values for one cron field.
// All five standard cron fields (plus the optional seconds field) have
// domains that fit comfortably in 64 bits (max domain size is 60), so a
// single uint64 is enough to represent "list of allowed values" without
// materializing a slice.
type fieldSet struct {
	bits      uint64
	lo        int
	wildcard  bool // true if the original token was "*" (used for dom/dow OR-vs-AND semantics)
}

func newFieldSet(lo int) fieldSet { return fieldSet{lo: lo} }

func (f *fieldSet) set(v int) {
	if v < f.lo || v-f.lo >= 64 {
		return
	}
	f.bits |= 1 << uint(v-f.lo)
}

func (f fieldSet) has(v int) bool {
	if v < f.lo || v-f.lo >= 64 {
		return false
	}
	return f.bits&(1<<uint(v-f.lo)) != 0
}

func (f fieldSet) empty() bool { return f.bits == 0 }

// parseField parses one comma-separated cron field (e.g. "1,5-10/2,H(0-30)")
// into a fieldSet over [lo,hi], resolving H/R tokens via jobName/fieldIndex.
func parseField(token string, lo, hi int, jobName string, fieldIndex int, names map[string]int) (fieldSet, error) {
	fs := newFieldSet(lo)
	token = strings.TrimSpace(token)
	if token == "*" || token == "?" {
		fs.wildcard = true
		for v := lo; v <= hi; v++ {
			fs.set(v)
		}
		return fs, nil
	}
	for _, part := range strings.Split(token, ",") {
		if err := parseFieldPart(&fs, strings.TrimSpace(part), lo, hi, jobName, fieldIndex, names); err != nil {
			return fieldSet{}, err
		}
	}
	if fs.empty() {
		return fieldSet{}, fmt.Errorf("field %q: no values resolved", token)
	}
	return fs, nil
}

func parseFieldPart(fs *fieldSet, part string, lo, hi int, jobName string, fieldIndex int, names map[string]int) error {
	switch {
	case strings.HasPrefix(part, "H"):
		return parseHashPart(fs, part, lo, hi, jobName, fieldIndex)
	case strings.HasPrefix(part, "R"):
		return parseRandPart(fs, part, lo, hi)
	default:
		return parseRangePart(fs, part, lo, hi, names)
	}
}

// parseHashPart handles "H", "H(a-b)", "H/N", "H(a-b)/N".
func parseHashPart(fs *fieldSet, part string, lo, hi int, jobName string, fieldIndex int) error {
	body := part[1:]
	subLo, subHi := lo, hi
	var step int
	if strings.HasPrefix(body, "(") {
		end := strings.IndexByte(body, ')')
		if end < 0 {
			return fmt.Errorf("unterminated H(...) in %q", part)
		}
		rng := body[1:end]
		a, b, err := parseRangeBounds(rng)
		if err != nil {
			return fmt.Errorf("H range in %q: %w", part, err)
		}
		subLo, subHi = a, b
		body = body[end+1:]
	}
	if strings.HasPrefix(body, "/") {
		n, err := strconv.Atoi(body[1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid H step in %q", part)
		}
		step = n
	} else if body != "" {
		return fmt.Errorf("malformed H token %q", part)
	}
	offset := hashField(jobName, fieldIndex, subLo, subHi)
	if step <= 0 {
		fs.set(offset)
		return nil
	}
	for v := offset; v <= hi; v += step {
		fs.set(v)
	}
	return nil
}

// parseRandPart handles "R", "R(a-b)".
func parseRandPart(fs *fieldSet, part string, lo, hi int) error {
	body := part[1:]
	subLo, subHi := lo, hi
	if strings.HasPrefix(body, "(") {
		end := strings.IndexByte(body, ')')
		if end < 0 {
			return fmt.Errorf("unterminated R(...) in %q", part)
		}
		rng := body[1:end]
		a, b, err := parseRangeBounds(rng)
		if err != nil {
			return fmt.Errorf("R range in %q: %w", part, err)
		}
		subLo, subHi = a, b
		body = body[end+1:]
	}
	if body != "" {
		return fmt.Errorf("malformed R token %q", part)
	}
	fs.set(randField(subLo, subHi))
	return nil
}

// parseRangePart handles "N", "a-b", "*/N", "a-b/N".
func parseRangePart(fs *fieldSet, part string, lo, hi int, names map[string]int) error {
	rangeStr, step := part, 0
	if i := strings.IndexByte(part, '/'); i >= 0 {
		rangeStr = part[:i]
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = n
		rangeStr = strings.TrimSpace(rangeStr)
	}
	a, b := lo, hi
	switch {
	case rangeStr == "*":
		// full domain, possibly stepped
	case strings.Contains(rangeStr, "-"):
		x, y, err := parseBound(rangeStr, names)
		if err != nil {
			return err
		}
		a, b = x, y
	default:
		v, err := parseNamedOrInt(rangeStr, names)
		if err != nil {
			return err
		}
		a, b = v, v
	}
	if step <= 0 {
		for v := a; v <= b; v++ {
			fs.set(v)
		}
		return nil
	}
	for v := a; v <= b; v += step {
		fs.set(v)
	}
	return nil
}

func parseBound(s string, names map[string]int) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	a, err := parseNamedOrInt(parts[0], names)
	if err != nil {
		return 0, 0, err
	}
	b, err := parseNamedOrInt(parts[1], names)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func parseRangeBounds(s string) (int, int, error) {
	return parseBound(s, nil)
}

func parseNamedOrInt(s string, names map[string]int) (int, error) {
	s = strings.TrimSpace(s)
	if names != nil {
		if v, ok := names[strings.ToUpper(s)]; ok {
			return v, nil
		}
	}
	return strconv.Atoi(s)
}
