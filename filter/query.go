package filter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	scoperr "github.com/mevscope/mevscope/errors"
)

// SignatureKind says how a pattern is compared against on-chain data.
type SignatureKind int

const (
	// KindHash compares the keccak hash of an exact signature against the
	// log's topic0 or the call's selector. Needs no dictionary.
	KindHash SignatureKind = iota

	// KindText compares the dictionary-resolved text signature for
	// equality.
	KindText

	// KindRegex matches the dictionary-resolved text signature.
	KindRegex
)

// SignatureQuery is one parsed event/method pattern.
type SignatureQuery struct {
	Kind  SignatureKind
	Hash  common.Hash
	Text  string
	Regex *regexp.Regexp

	raw string
}

// ParseSignatureQuery accepts `/regex/` (inline flags supported), an
// exact signature such as `Transfer(address,address,uint256)` (hashed at
// parse time), a 0x-prefixed hash/selector literal, or a bare name
// compared against dictionary text.
func ParseSignatureQuery(input string) (*SignatureQuery, error) {
	if len(input) >= 2 && strings.HasPrefix(input, "/") && strings.HasSuffix(input, "/") {
		re, err := regexp.Compile(input[1 : len(input)-1])
		if err != nil {
			return nil, scoperr.NewParseError(input, "invalid regex: "+err.Error())
		}
		return &SignatureQuery{Kind: KindRegex, Regex: re, raw: input}, nil
	}

	if strings.HasPrefix(input, "0x") {
		raw, err := hexBytes(input)
		if err != nil {
			return nil, err
		}
		switch len(raw) {
		case common.HashLength:
			return &SignatureQuery{Kind: KindHash, Hash: common.BytesToHash(raw), raw: input}, nil
		case 4:
			var h common.Hash
			copy(h[:4], raw)
			return &SignatureQuery{Kind: KindHash, Hash: h, raw: input}, nil
		default:
			return nil, scoperr.NewParseError(input, "hash literal must be a 4-byte selector or 32-byte topic")
		}
	}

	if strings.Contains(input, "(") {
		if !strings.HasSuffix(input, ")") {
			return nil, scoperr.NewParseError(input, "malformed signature: "+input)
		}
		return &SignatureQuery{Kind: KindHash, Hash: crypto.Keccak256Hash([]byte(input)), raw: input}, nil
	}

	return &SignatureQuery{Kind: KindText, Text: input, raw: input}, nil
}

// MatchesTopic compares the query against an event's topic0 plus its
// optional dictionary text.
func (q *SignatureQuery) MatchesTopic(topic0 common.Hash, text string, textKnown bool) bool {
	switch q.Kind {
	case KindHash:
		return q.Hash == topic0
	case KindText:
		return textKnown && q.Text == text
	default:
		return textKnown && q.Regex.MatchString(text)
	}
}

// MatchesSelector compares the query against a call's 4-byte selector
// plus its optional dictionary text.
func (q *SignatureQuery) MatchesSelector(selector []byte, text string, textKnown bool) bool {
	if len(selector) < 4 {
		return false
	}
	switch q.Kind {
	case KindHash:
		return q.Hash[0] == selector[0] && q.Hash[1] == selector[1] &&
			q.Hash[2] == selector[2] && q.Hash[3] == selector[3]
	case KindText:
		return textKnown && q.Text == text
	default:
		return textKnown && q.Regex.MatchString(text)
	}
}

// NeedsText reports whether matching requires a dictionary lookup.
func (q *SignatureQuery) NeedsText() bool {
	return q.Kind != KindHash
}

func (q *SignatureQuery) String() string {
	return q.raw
}

// EventQuery is one --event / --not-event pattern: a signature query, an
// emitting address, or both joined with '|'.
type EventQuery struct {
	Sig     *SignatureQuery
	Address *common.Address

	raw string
}

// ParseEventQuery parses "<pattern>", "<address>" or "<pattern>|<address>".
func ParseEventQuery(input string) (*EventQuery, error) {
	parts := strings.Split(input, "|")
	switch len(parts) {
	case 2:
		sig, err := ParseSignatureQuery(parts[0])
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(parts[1]) {
			return nil, scoperr.NewParseError(input, "invalid event address: "+parts[1])
		}
		addr := common.HexToAddress(parts[1])
		return &EventQuery{Sig: sig, Address: &addr, raw: input}, nil
	case 1:
		if common.IsHexAddress(parts[0]) {
			addr := common.HexToAddress(parts[0])
			return &EventQuery{Address: &addr, raw: input}, nil
		}
		sig, err := ParseSignatureQuery(parts[0])
		if err != nil {
			return nil, err
		}
		return &EventQuery{Sig: sig, raw: input}, nil
	default:
		return nil, scoperr.NewParseError(input, "invalid event query: must be 'pattern', 'address' or 'pattern|address'")
	}
}

func (q *EventQuery) String() string {
	return q.raw
}

// AddressOrName is a --from/--to argument: a 0x address or an ENS name
// compared against the counterparty's reverse record.
type AddressOrName struct {
	Address *common.Address
	ENSName string // lowercased, non-empty for the name variant
}

// ParseAddressOrName accepts a hex address or a *.eth name.
func ParseAddressOrName(value string) (*AddressOrName, error) {
	if common.IsHexAddress(value) {
		addr := common.HexToAddress(value)
		return &AddressOrName{Address: &addr}, nil
	}
	if strings.HasSuffix(strings.ToLower(value), ".eth") {
		return &AddressOrName{ENSName: strings.ToLower(value)}, nil
	}
	return nil, scoperr.NewParseError(value, "'"+value+"' is not an Ethereum address or ENS name")
}

// PositionRange is an inclusive in-block position window.
type PositionRange struct {
	From uint32
	To   uint32
}

// ParsePositionRange parses "N" or "N:M" with N <= M.
func ParsePositionRange(input string) (*PositionRange, error) {
	parts := strings.Split(input, ":")
	switch len(parts) {
	case 1:
		pos, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, scoperr.NewParseError(input, "invalid position: '"+parts[0]+"'")
		}
		return &PositionRange{From: uint32(pos), To: uint32(pos)}, nil
	case 2:
		from, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, scoperr.NewParseError(input, "invalid start position: '"+parts[0]+"'")
		}
		to, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, scoperr.NewParseError(input, "invalid end position: '"+parts[1]+"'")
		}
		if from > to {
			return nil, scoperr.NewParseError(input, "start position must not exceed end position")
		}
		return &PositionRange{From: uint32(from), To: uint32(to)}, nil
	default:
		return nil, scoperr.NewParseError(input, "invalid position format: '"+input+"'")
	}
}

// Contains reports whether pos falls inside the range.
func (r *PositionRange) Contains(pos uint32) bool {
	return pos >= r.From && pos <= r.To
}

// ERC20TransferQuery matches transactions whose logs carry a Transfer
// from a specific token, optionally amount-filtered.
type ERC20TransferQuery struct {
	Token  common.Address
	Amount *Threshold
}

// ParseERC20TransferQuery parses "<token>" or "<token>|<threshold>".
func ParseERC20TransferQuery(input string) (*ERC20TransferQuery, error) {
	parts := strings.Split(input, "|")
	if len(parts) > 2 {
		return nil, scoperr.NewParseError(input, "invalid erc20 transfer query: must be 'token' or 'token|threshold'")
	}
	if !common.IsHexAddress(parts[0]) {
		return nil, scoperr.NewParseError(input, "invalid token address: "+parts[0])
	}
	q := &ERC20TransferQuery{Token: common.HexToAddress(parts[0])}
	if len(parts) == 2 {
		threshold, err := ParseThreshold(parts[1])
		if err != nil {
			return nil, err
		}
		q.Amount = threshold
	}
	return q, nil
}

func hexBytes(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, scoperr.NewParseError(s, "invalid hex literal: "+s)
	}
	return b, nil
}
