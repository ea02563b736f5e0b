package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralRecord is the serialized form of one collateral setting.
type CollateralRecord struct {
	Asset   common.Address     `json:"asset"`
	Setting *CollateralSetting `json:"setting"`
}

// PositionRecord is the serialized form of one position. Records are ordered
// so a restore reproduces the original scan order.
type PositionRecord struct {
	Asset    common.Address `json:"asset"`
	User     common.Address `json:"user"`
	Position *Position      `json:"position"`
}

// StateSnapshot is a complete copy of the engine state, used to persist it
// across daemon restarts.
type StateSnapshot struct {
	Settings  []CollateralRecord `json:"settings"`
	Positions []PositionRecord   `json:"positions"`
	OrgFeePot *big.Int           `json:"orgFeePot"`
}

// Snapshot copies the state into a serializable snapshot.
func (m *MemoryState) Snapshot() *StateSnapshot {
	snap := &StateSnapshot{OrgFeePot: m.OrgFeePot()}
	for _, asset := range m.assetOrder {
		snap.Settings = append(snap.Settings, CollateralRecord{
			Asset:   asset,
			Setting: m.settings[asset].Clone(),
		})
		for _, user := range m.userOrder[asset] {
			snap.Positions = append(snap.Positions, PositionRecord{
				Asset:    asset,
				User:     user,
				Position: m.positions[asset][user].Clone(),
			})
		}
	}
	return snap
}

// Restore replaces the state with the snapshot's contents.
func (m *MemoryState) Restore(snap *StateSnapshot) {
	m.settings = make(map[common.Address]*CollateralSetting)
	m.assetOrder = nil
	m.positions = make(map[common.Address]map[common.Address]*Position)
	m.userOrder = make(map[common.Address][]common.Address)
	m.orgFeePot = big.NewInt(0)
	if snap == nil {
		return
	}
	for _, rec := range snap.Settings {
		if rec.Setting == nil {
			continue
		}
		m.PutCollateralSetting(rec.Asset, rec.Setting)
	}
	for _, rec := range snap.Positions {
		if rec.Position == nil {
			continue
		}
		m.PutPosition(rec.User, rec.Asset, rec.Position)
	}
	if snap.OrgFeePot != nil {
		m.orgFeePot = new(big.Int).Set(snap.OrgFeePot)
	}
}
