// Package idgen issues short ids for new mappings without asking the store.
//
// An id is a snowflake (millisecond timestamp, node, sequence) rendered as a
// fixed-width base62 string, so ids from one node sort by creation time when
// decoded and never repeat within a node.
package idgen

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/darkodi/shorts/internal/encoder"
)

// Length is the fixed number of characters in every short id
const Length = encoder.MaxLength

// Generator produces short ids for one node
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for the given node id (0-1023)
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// NewShortID returns a fresh short id
func (g *Generator) NewShortID() string {
	id := g.node.Generate()
	return encoder.EncodePadded(uint64(id.Int64()), Length)
}

// Time extracts the creation time embedded in a short id
func Time(shortID string) (time.Time, error) {
	n, err := encoder.Decode(shortID)
	if err != nil {
		return time.Time{}, err
	}
	ms := snowflake.ParseInt64(int64(n)).Time()
	return time.UnixMilli(ms), nil
}
