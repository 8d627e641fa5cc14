package router

import (
	"fmt"

	"gonum.org/v1/gonum/graph/encoding/dot"
)

// MarshalDOT renders the token graph in Graphviz DOT, nodes labelled with
// their symbols.
func (lg *LiquidityGraph) MarshalDOT(name string) ([]byte, error) {
	b, err := dot.Marshal(lg.g, name, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("MarshalDOT: %w", err)
	}
	return b, nil
}
