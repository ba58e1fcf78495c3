package filter

import (
	"strings"

	"github.com/holiman/uint256"

	scoperr "github.com/mevscope/mevscope/errors"
)

// EthUnit scales a threshold magnitude into wei.
type EthUnit int

const (
	UnitWei EthUnit = iota
	UnitGwei
	UnitEther
)

// ParseEthUnit recognizes wei, gwei and ether (eth alias).
func ParseEthUnit(s string) (EthUnit, error) {
	switch strings.ToLower(s) {
	case "wei":
		return UnitWei, nil
	case "gwei":
		return UnitGwei, nil
	case "ether", "eth":
		return UnitEther, nil
	default:
		return UnitWei, scoperr.NewParseError(s, "unknown unit: "+s)
	}
}

// Multiplier returns the unit's wei scaling factor.
func (u EthUnit) Multiplier() *uint256.Int {
	switch u {
	case UnitGwei:
		return uint256.NewInt(1_000_000_000)
	case UnitEther:
		m := uint256.NewInt(1_000_000_000)
		return m.Mul(m, uint256.NewInt(1_000_000_000))
	default:
		return uint256.NewInt(1)
	}
}

// ParseEthValue parses a string like "5gwei" or "0.01ether" into wei.
// A bare number is taken as wei. Fractions are exact: the fractional part
// is scaled by the unit and divided by its own decimal length.
func ParseEthValue(input string) (*uint256.Int, error) {
	if input == "" {
		return nil, scoperr.NewParseError(input, "empty value")
	}

	numeric := input
	unit := UnitWei
	for i, c := range input {
		if (c >= '0' && c <= '9') || c == '.' {
			continue
		}
		parsed, err := ParseEthUnit(input[i:])
		if err != nil {
			return nil, scoperr.NewParseError(input, "invalid value format: expected '<number><unit>'")
		}
		numeric, unit = input[:i], parsed
		break
	}

	if numeric == "" {
		return nil, scoperr.NewParseError(input, "invalid value format: expected '<number><unit>'")
	}
	return parseDecimalValue(input, numeric, unit)
}

func parseDecimalValue(raw, numeric string, unit EthUnit) (*uint256.Int, error) {
	if !strings.Contains(numeric, ".") {
		value, err := uint256.FromDecimal(numeric)
		if err != nil {
			return nil, scoperr.NewParseError(raw, "invalid number: "+numeric)
		}
		return value.Mul(value, unit.Multiplier()), nil
	}

	parts := strings.Split(numeric, ".")
	if len(parts) != 2 {
		return nil, scoperr.NewParseError(raw, "invalid decimal format")
	}

	whole := uint256.NewInt(0)
	if parts[0] != "" {
		w, err := uint256.FromDecimal(parts[0])
		if err != nil {
			return nil, scoperr.NewParseError(raw, "invalid number: "+parts[0])
		}
		whole = w
	}
	whole.Mul(whole, unit.Multiplier())

	frac := parts[1]
	if frac == "" {
		return whole, nil
	}
	// Anything past 18 fractional digits is below one wei at the largest
	// unit and would only overflow the scale factor.
	if len(frac) > 18 {
		frac = frac[:18]
	}
	fracValue, err := uint256.FromDecimal(frac)
	if err != nil {
		return nil, scoperr.NewParseError(raw, "invalid decimal part: "+parts[1])
	}
	scale := uint256.NewInt(10)
	scale.Exp(scale, uint256.NewInt(uint64(len(frac))))

	fracValue.Mul(fracValue, unit.Multiplier())
	fracValue.Div(fracValue, scale)

	return whole.Add(whole, fracValue), nil
}

// Op is a threshold comparison operator.
type Op int

const (
	OpGE Op = iota
	OpLE
)

func (o Op) String() string {
	if o == OpLE {
		return "le"
	}
	return "ge"
}

// Threshold is one parsed numeric clause: an operator and a wei magnitude.
type Threshold struct {
	Op  Op
	Wei *uint256.Int
}

// ParseThreshold parses "<op><magnitude><unit?>" where op is the first
// two characters ('ge' or 'le'), e.g. "ge1ether", "le2gwei",
// "ge10000000000000000".
func ParseThreshold(s string) (*Threshold, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 3 {
		return nil, scoperr.NewParseError(s, "invalid threshold: '"+s+"'")
	}

	opStr, numStr := trimmed[:2], trimmed[2:]
	var op Op
	switch opStr {
	case "ge":
		op = OpGE
	case "le":
		op = OpLE
	default:
		return nil, scoperr.NewParseError(s, "invalid operator: '"+opStr+"' use 'ge' (greater or equal) or 'le' (less or equal)")
	}

	wei, err := ParseEthValue(numStr)
	if err != nil {
		return nil, err
	}
	return &Threshold{Op: op, Wei: wei}, nil
}

// Matches applies the comparison to v. A nil v never matches.
func (t *Threshold) Matches(v *uint256.Int) bool {
	if v == nil {
		return false
	}
	if t.Op == OpGE {
		return v.Cmp(t.Wei) >= 0
	}
	return v.Cmp(t.Wei) <= 0
}
