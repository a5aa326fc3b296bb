package domain

import "strings"

// AssetClass represents the kind of instrument a ticker bot tracks.
type AssetClass string

const (
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassStock  AssetClass = "STOCK"
)

// String returns the string representation of AssetClass.
func (a AssetClass) String() string {
	return string(a)
}

// IsValid checks if the asset class is a valid value.
func (a AssetClass) IsValid() bool {
	return a == AssetClassCrypto || a == AssetClassStock
}

// NameEnvKey returns the worker environment variable carrying the display name.
func (a AssetClass) NameEnvKey() string {
	return string(a) + "_NAME"
}

// ParseAssetClass parses an asset class case-insensitively.
func ParseAssetClass(s string) (AssetClass, bool) {
	a := AssetClass(strings.ToUpper(strings.TrimSpace(s)))
	return a, a.IsValid()
}
