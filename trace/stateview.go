package trace

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// AccountDelta is one account's accumulated writes. The JSON shape is
// the debug_traceCall override format, so a persisted overlay and the
// wire form are the same bytes.
type AccountDelta struct {
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	Nonce     *hexutil.Uint64             `json:"nonce,omitempty"`
	Code      hexutil.Bytes               `json:"code,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

// Overlay maps accounts to their accumulated writes.
type Overlay map[common.Address]*AccountDelta

// StateView is the local write-overlay of a replayed block prefix. The
// untouched state stays remote: the executor ships the overlay as state
// overrides with every call and the node reads everything else from the
// block's parent.
type StateView struct {
	overlay Overlay
}

// NewStateView returns an empty view: the block's opening state.
func NewStateView() *StateView {
	return &StateView{overlay: make(Overlay)}
}

// Apply merges one transaction's write set into the view. Balances,
// nonces and code replace previous values; storage merges per slot.
func (v *StateView) Apply(diff Overlay) {
	for addr, delta := range diff {
		if delta == nil {
			continue
		}
		acct := v.overlay[addr]
		if acct == nil {
			acct = &AccountDelta{}
			v.overlay[addr] = acct
		}
		if delta.Balance != nil {
			acct.Balance = delta.Balance
		}
		if delta.Nonce != nil {
			acct.Nonce = delta.Nonce
		}
		if len(delta.Code) > 0 {
			acct.Code = delta.Code
		}
		if len(delta.StateDiff) > 0 {
			if acct.StateDiff == nil {
				acct.StateDiff = make(map[common.Hash]common.Hash, len(delta.StateDiff))
			}
			for slot, value := range delta.StateDiff {
				acct.StateDiff[slot] = value
			}
		}
	}
}

// Overrides returns the wire-form override set. The map is shared, not
// copied; callers must not mutate it.
func (v *StateView) Overrides() Overlay {
	if len(v.overlay) == 0 {
		return nil
	}
	return v.overlay
}

// Delta returns the accumulated writes for one account.
func (v *StateView) Delta(addr common.Address) (*AccountDelta, bool) {
	delta, ok := v.overlay[addr]
	return delta, ok
}

// Len returns the number of touched accounts.
func (v *StateView) Len() int {
	return len(v.overlay)
}

// Encode serializes the overlay for checkpoint persistence.
func (v *StateView) Encode() ([]byte, error) {
	encoded, err := json.Marshal(v.overlay)
	if err != nil {
		return nil, errors.Wrap(err, "encode state overlay")
	}
	return encoded, nil
}

// Restore replaces the view's contents with a persisted overlay.
func (v *StateView) Restore(encoded []byte) error {
	overlay := make(Overlay)
	if err := json.Unmarshal(encoded, &overlay); err != nil {
		return errors.Wrap(err, "decode state overlay")
	}
	v.overlay = overlay
	return nil
}
