package domain

import "github.com/ethereum/go-ethereum/common"

// ProtocolConfig is the single protocol-wide configuration record.
// Stored as one row; read through storage.ConfigStore.
type ProtocolConfig struct {
	FeeRecipient *common.Address // Morpho fee recipient, nil until set
	UpdatedAt    int64
}

// Clone returns a deep copy.
func (c *ProtocolConfig) Clone() *ProtocolConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.FeeRecipient != nil {
		r := *c.FeeRecipient
		out.FeeRecipient = &r
	}
	return &out
}
