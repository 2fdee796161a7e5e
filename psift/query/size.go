package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Size keyword cutoffs. The upper bounds are IEC powers of two; each keyword
// covers the band above the previous cutoff, with tiny starting at zero and
// empty pinned to exactly zero.
const (
	SizeTinyMax      = 10 << 10  // 10 KiB
	SizeSmallMax     = 1 << 20   // 1 MiB
	SizeMediumMax    = 100 << 20 // 100 MiB
	SizeLargeMax     = 1 << 30   // 1 GiB
	SizeHugeMax      = 10 << 30  // 10 GiB
	SizeUnboundedMax = uint64(math.MaxUint64)
)

// SizeRange is an inclusive byte range. Not inverts the test (only produced
// by the != operator).
type SizeRange struct {
	Min uint64
	Max uint64
	Not bool
}

// Contains reports whether size falls in the range.
func (r SizeRange) Contains(size uint64) bool {
	in := size >= r.Min && size <= r.Max
	if r.Not {
		return !in
	}
	return in
}

var sizeKeywords = map[string]SizeRange{
	"empty":    {Min: 0, Max: 0},
	"tiny":     {Min: 0, Max: SizeTinyMax},
	"small":    {Min: SizeTinyMax + 1, Max: SizeSmallMax},
	"medium":   {Min: SizeSmallMax + 1, Max: SizeMediumMax},
	"large":    {Min: SizeMediumMax + 1, Max: SizeLargeMax},
	"huge":     {Min: SizeLargeMax + 1, Max: SizeHugeMax},
	"gigantic": {Min: SizeHugeMax + 1, Max: SizeUnboundedMax},
	"giant":    {Min: SizeHugeMax + 1, Max: SizeUnboundedMax},
}

// All unit spellings resolve to powers of 1024; the SI names are accepted as
// aliases for their IEC siblings.
var sizeUnits = map[string]uint64{
	"":    1,
	"b":   1,
	"kb":  1 << 10,
	"kib": 1 << 10,
	"k":   1 << 10,
	"mb":  1 << 20,
	"mib": 1 << 20,
	"m":   1 << 20,
	"gb":  1 << 30,
	"gib": 1 << 30,
	"g":   1 << 30,
	"tb":  1 << 40,
	"tib": 1 << 40,
	"t":   1 << 40,
	"pb":  1 << 50,
	"pib": 1 << 50,
	"p":   1 << 50,
}

// ParseSizeArg parses the argument of a size: filter.
//
//	size:>1mb  size:<=2048  size:=4kb  size:!=0  size:1kb..60kb  size:tiny
func ParseSizeArg(arg string) (SizeRange, error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	if arg == "" {
		return SizeRange{}, fmt.Errorf("size filter needs an argument")
	}
	if r, ok := sizeKeywords[arg]; ok {
		return r, nil
	}
	if lo, hi, ok := strings.Cut(arg, ".."); ok {
		minV, err := parseSizeValue(lo)
		if err != nil {
			return SizeRange{}, err
		}
		maxV, err := parseSizeValue(hi)
		if err != nil {
			return SizeRange{}, err
		}
		if minV > maxV {
			return SizeRange{}, fmt.Errorf("size range %q is inverted", arg)
		}
		return SizeRange{Min: minV, Max: maxV}, nil
	}

	op := "="
	rest := arg
	for _, candidate := range []string{"<=", ">=", "!=", "<", ">", "="} {
		if strings.HasPrefix(arg, candidate) {
			op = candidate
			rest = arg[len(candidate):]
			break
		}
	}
	v, err := parseSizeValue(rest)
	if err != nil {
		return SizeRange{}, err
	}
	switch op {
	case "<":
		if v == 0 {
			return SizeRange{Min: 0, Max: 0, Not: true}, nil
		}
		return SizeRange{Min: 0, Max: v - 1}, nil
	case "<=":
		return SizeRange{Min: 0, Max: v}, nil
	case ">":
		if v == math.MaxUint64 {
			return SizeRange{Min: 0, Max: math.MaxUint64, Not: true}, nil
		}
		return SizeRange{Min: v + 1, Max: SizeUnboundedMax}, nil
	case ">=":
		return SizeRange{Min: v, Max: SizeUnboundedMax}, nil
	case "!=":
		return SizeRange{Min: v, Max: v, Not: true}, nil
	default:
		return SizeRange{Min: v, Max: v}, nil
	}
}

func parseSizeValue(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	cut := len(s)
	for cut > 0 {
		c := s[cut-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		cut--
	}
	digits, unit := s[:cut], s[cut:]
	mult, ok := sizeUnits[strings.TrimSpace(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", unit)
	}
	if digits == "" {
		return 0, fmt.Errorf("size value missing in %q", s)
	}
	if !strings.Contains(digits, ".") {
		n, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad size value %q", digits)
		}
		return n * mult, nil
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("bad size value %q", digits)
	}
	return uint64(f * float64(mult)), nil
}
