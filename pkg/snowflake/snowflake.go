package snowflake

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/splitlease/proposal-sync/internal/config"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

const suffixModulus = 1_000_000_000_000_000_000

// Node wraps snowflake.Node to abstract dependency
type Node struct {
	*snowflake.Node
}

func NewNode(cfg *config.Config) (*Node, error) {
	return NewNodeWithID(cfg.NodeID)
}

func NewNodeWithID(id int64) (*Node, error) {
	node, err := snowflake.NewNode(id)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", id, err)
	}
	return &Node{node}, nil
}

// GenerateID returns a new snowflake ID as int64
func (n *Node) GenerateID() int64 {
	return n.Generate().Int64()
}

// ExternalID returns a shareable record identifier of the form
// "<unix millis>x<18 digit suffix>". The suffix is the low digits of a fresh
// snowflake ID, so two IDs minted by one node never collide.
func (n *Node) ExternalID(at time.Time) string {
	return fmt.Sprintf("%dx%018d", at.UnixMilli(), n.GenerateID()%suffixModulus)
}
