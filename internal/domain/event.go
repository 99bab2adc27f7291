package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDeposited           EventType = "deposited"
	EventWithdrawn           EventType = "withdrawn"
	EventAssetRegistered     EventType = "asset_registered"
	EventAssetRemoved        EventType = "asset_removed"
	EventAdminRoleChanged    EventType = "admin_role_changed"
	EventOperatorRoleChanged EventType = "operator_role_changed"
)

// Event is a notification produced by the ledger for observers. A failed
// operation never produces one.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func NewEvent(t EventType, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

type Deposited struct {
	Holder   Holder   `json:"holder"`
	Asset    Asset    `json:"asset"`
	Amount   *big.Int `json:"amount"`
	UsdValue *big.Int `json:"usd_value"`
}

type Withdrawn struct {
	Holder   Holder   `json:"holder"`
	Asset    Asset    `json:"asset"`
	Amount   *big.Int `json:"amount"`
	UsdValue *big.Int `json:"usd_value"`
}

type AssetRegistered struct {
	Asset       Asset  `json:"asset"`
	PriceSource string `json:"price_source"`
	Decimals    uint8  `json:"decimals"`
}

type AssetRemoved struct {
	Asset Asset `json:"asset"`
}

type AdminRoleChanged struct {
	Address Holder `json:"address"`
	Granted bool   `json:"granted"`
}

type OperatorRoleChanged struct {
	Address Holder `json:"address"`
	Granted bool   `json:"granted"`
}
