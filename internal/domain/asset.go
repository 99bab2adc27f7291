package domain

// Asset identifies a fungible value type the ledger can custody. One
// distinguished asset per deployment is the native asset; everything else is a
// third-party token.
type Asset string

// Holder identifies an account with a per-asset balance in the ledger.
type Holder string

const (
	// MaxAssetDecimals is the highest precision an asset may declare.
	MaxAssetDecimals = 18

	// UsdDecimals is the ledger's USD minor-unit precision.
	UsdDecimals = 6
)

func (a Asset) IsZero() bool  { return a == "" }
func (h Holder) IsZero() bool { return h == "" }
