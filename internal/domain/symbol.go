package domain

// ProvisionRequest is one inbound request for a ticker bot.
type ProvisionRequest struct {
	AssetClass AssetClass
	RawSymbol  string // user supplied identifier, not yet validated
}

// ValidatedSymbol is the canonical form of a symbol confirmed by a price provider.
type ValidatedSymbol struct {
	ID          string // canonical ticker, pool key and container name seed
	DisplayName string // label passed to the worker
}
