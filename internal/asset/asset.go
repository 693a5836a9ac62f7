// Package asset handles parsing and validation of the CAIP-style asset
// identifiers streams are denominated in. The engine treats assets as opaque
// beyond this shape check — it never moves value itself.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Supported token standards.
const (
	StandardERC20   = "erc20"
	StandardERC777  = "erc777"
	StandardERC4626 = "erc4626"
)

var validStandards = map[string]bool{
	StandardERC20:   true,
	StandardERC777:  true,
	StandardERC4626: true,
}

// assetRegex matches: eip155:{chainID}/{standard}:{address}
// Example: eip155:1/erc20:0x6B175474E89094C44Da98b954EedeAC495271d0F
var assetRegex = regexp.MustCompile(
	`^eip155:([0-9]+)/([a-z0-9]+):(0x[0-9a-fA-F]{40})$`,
)

var (
	ErrInvalidAssetID  = errors.New("asset: invalid asset identifier format")
	ErrInvalidStandard = errors.New("asset: unsupported token standard")
)

// Asset represents a parsed asset identifier.
type Asset struct {
	ID       string `json:"id"`
	ChainID  string `json:"chain_id"`
	Standard string `json:"standard"`
	Address  string `json:"address"`
}

// Parse parses and validates an asset identifier string.
// Format: eip155:{chainID}/{standard}:{address}
func Parse(id string) (*Asset, error) {
	matches := assetRegex.FindStringSubmatch(id)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected eip155:{chain}/{standard}:{address})",
			ErrInvalidAssetID, id)
	}

	chainID := matches[1]
	standard := matches[2]
	address := matches[3]

	if !validStandards[standard] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStandard, standard)
	}

	return &Asset{
		ID:       id,
		ChainID:  chainID,
		Standard: standard,
		Address:  strings.ToLower(address),
	}, nil
}
