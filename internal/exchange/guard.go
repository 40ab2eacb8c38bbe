package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	errorsmod "cosmossdk.io/errors"

	"github.com/atmx/fixedrate-engine/internal/model"
)

// guard is a per-exchange non-reentrancy lock. It is only touched while the
// runtime lock is held, so it needs no synchronization of its own.
type guard struct {
	held map[common.Hash]bool
}

// enter locks id and returns the matching release. A nested call for the
// same exchange, such as one issued from a token hook during settlement,
// fails with ErrReentrantCall.
func (g *guard) enter(id common.Hash) (func(), error) {
	if g.held[id] {
		return nil, errorsmod.Wrapf(model.ErrReentrantCall, "exchange %s", id.Hex())
	}
	g.held[id] = true
	return func() { delete(g.held, id) }, nil
}
