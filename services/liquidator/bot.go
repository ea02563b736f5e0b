package liquidator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"airlend/observability"
)

// ErrEmptyPerformData indicates a PerformUpkeep call with nothing to do.
var ErrEmptyPerformData = errors.New("liquidator: empty perform data")

// Market is the slice of the lending engine the bot needs: read-only
// liquidatability checks for the scan phase and the keeper-gated call for
// the perform phase.
type Market interface {
	AllCollateralTokens() []common.Address
	PositionUsers(asset common.Address) []common.Address
	Liquidatable(user, asset common.Address) (bool, error)
	Liquidate(caller, user, asset common.Address) error
}

// CheckPayload selects the scan window: a collateral asset plus an offset
// and limit into its position-holder list. The caller shards large markets
// by varying the window across upkeep registrations.
type CheckPayload struct {
	Asset  common.Address `json:"asset"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// Target identifies one liquidatable position.
type Target struct {
	User  common.Address `json:"user"`
	Asset common.Address `json:"asset"`
}

// PerformData carries the targets found by a check into the perform phase.
type PerformData struct {
	Targets []Target `json:"targets"`
}

// Bot drives two-phase liquidation: CheckUpkeep scans a window without side
// effects, PerformUpkeep executes whatever the scan found, re-validated by
// the market itself so a stale scan cannot liquidate a recovered position.
type Bot struct {
	market Market
	keeper common.Address
}

// NewBot binds a bot to market, liquidating as keeper. The keeper address
// must be on the market's allow-list for PerformUpkeep to succeed.
func NewBot(market Market, keeper common.Address) *Bot {
	return &Bot{market: market, keeper: keeper}
}

// Keeper returns the address the bot liquidates as.
func (b *Bot) Keeper() common.Address { return b.keeper }

// CheckUpkeep scans the window selected by payload and reports whether any
// position in it is liquidatable, returning encoded perform data when so.
func (b *Bot) CheckUpkeep(payload []byte) (bool, []byte, error) {
	var req CheckPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return false, nil, fmt.Errorf("liquidator: decode check payload: %w", err)
	}
	if req.Limit <= 0 || req.Offset < 0 {
		return false, nil, fmt.Errorf("liquidator: invalid scan window offset=%d limit=%d", req.Offset, req.Limit)
	}

	users := b.market.PositionUsers(req.Asset)
	if req.Offset >= len(users) {
		return false, nil, nil
	}
	end := req.Offset + req.Limit
	if end > len(users) {
		end = len(users)
	}

	var targets []Target
	for _, user := range users[req.Offset:end] {
		liquidatable, err := b.market.Liquidatable(user, req.Asset)
		if err != nil {
			return false, nil, err
		}
		if liquidatable {
			targets = append(targets, Target{User: user, Asset: req.Asset})
		}
	}
	if len(targets) == 0 {
		return false, nil, nil
	}
	performData, err := json.Marshal(PerformData{Targets: targets})
	if err != nil {
		return false, nil, fmt.Errorf("liquidator: encode perform data: %w", err)
	}
	return true, performData, nil
}

// PerformUpkeep liquidates every target in performData. Each target is
// attempted independently; the first market error is returned after the
// remaining targets have been tried, so one raced position does not block
// the rest of the batch.
func (b *Bot) PerformUpkeep(performData []byte) error {
	var req PerformData
	if err := json.Unmarshal(performData, &req); err != nil {
		return fmt.Errorf("liquidator: decode perform data: %w", err)
	}
	if len(req.Targets) == 0 {
		return ErrEmptyPerformData
	}
	var firstErr error
	for _, target := range req.Targets {
		err := b.market.Liquidate(b.keeper, target.User, target.Asset)
		observability.LendingMetrics().ObserveLiquidation(target.Asset.Hex(), err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
