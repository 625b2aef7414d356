// Package codegen produces coupon codes for issued claims.
package codegen

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const prefixLen = 6

type Generator struct {
	node *snowflake.Node
}

// New returns a Generator for the given snowflake node id. Each process
// sharing a database must use a distinct node id.
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// NextCode returns <PREFIX>-<base58 snowflake>, where PREFIX is derived from
// the campaign id.
func (g *Generator) NextCode(campaignID string) (string, error) {
	return prefix(campaignID) + "-" + g.node.Generate().Base58(), nil
}

func prefix(campaignID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(campaignID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == prefixLen {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "CPN"
	}
	return b.String()
}
