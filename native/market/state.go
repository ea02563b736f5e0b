package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// engineState is the persistence surface the engine mutates. Implementations
// must return copies the engine may freely modify; a write is only visible
// after the corresponding Put.
type engineState interface {
	CollateralSetting(asset common.Address) (*CollateralSetting, bool)
	PutCollateralSetting(asset common.Address, setting *CollateralSetting)
	CollateralAssets() []common.Address

	Position(user, asset common.Address) (*Position, bool)
	PutPosition(user, asset common.Address, pos *Position)
	PositionUsers(asset common.Address) []common.Address

	OrgFeePot() *big.Int
	PutOrgFeePot(pot *big.Int)
}

// MemoryState is the in-memory engineState used by tests and by deployments
// that persist through snapshots instead of a live store. Assets and users
// are kept in first-seen order so scan windows are stable.
type MemoryState struct {
	settings   map[common.Address]*CollateralSetting
	assetOrder []common.Address

	positions map[common.Address]map[common.Address]*Position
	userOrder map[common.Address][]common.Address

	orgFeePot *big.Int
}

// NewMemoryState constructs an empty state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		settings:  make(map[common.Address]*CollateralSetting),
		positions: make(map[common.Address]map[common.Address]*Position),
		userOrder: make(map[common.Address][]common.Address),
		orgFeePot: big.NewInt(0),
	}
}

func (m *MemoryState) CollateralSetting(asset common.Address) (*CollateralSetting, bool) {
	setting, ok := m.settings[asset]
	if !ok {
		return nil, false
	}
	return setting.Clone(), true
}

func (m *MemoryState) PutCollateralSetting(asset common.Address, setting *CollateralSetting) {
	if _, ok := m.settings[asset]; !ok {
		m.assetOrder = append(m.assetOrder, asset)
	}
	m.settings[asset] = setting.Clone()
}

func (m *MemoryState) CollateralAssets() []common.Address {
	out := make([]common.Address, len(m.assetOrder))
	copy(out, m.assetOrder)
	return out
}

func (m *MemoryState) Position(user, asset common.Address) (*Position, bool) {
	byUser, ok := m.positions[asset]
	if !ok {
		return nil, false
	}
	pos, ok := byUser[user]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

func (m *MemoryState) PutPosition(user, asset common.Address, pos *Position) {
	byUser, ok := m.positions[asset]
	if !ok {
		byUser = make(map[common.Address]*Position)
		m.positions[asset] = byUser
	}
	if _, ok := byUser[user]; !ok {
		m.userOrder[asset] = append(m.userOrder[asset], user)
	}
	byUser[user] = pos.Clone()
}

func (m *MemoryState) PositionUsers(asset common.Address) []common.Address {
	users := m.userOrder[asset]
	out := make([]common.Address, len(users))
	copy(out, users)
	return out
}

func (m *MemoryState) OrgFeePot() *big.Int {
	return new(big.Int).Set(m.orgFeePot)
}

func (m *MemoryState) PutOrgFeePot(pot *big.Int) {
	m.orgFeePot = new(big.Int).Set(pot)
}
