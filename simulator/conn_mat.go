package simulator

import "fmt"

// A ConnMat holds one value per directed pair of nodes:
// rows are indexed by the source node and columns by the
// destination node.
type ConnMat struct {
	numNodes int
	values   []float64
}

// NewConnMat creates an all-zero matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{numNodes: numNodes, values: make([]float64, numNodes*numNodes)}
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

// Get reads the value of a pair.
func (c *ConnMat) Get(src, dst int) float64 {
	return c.values[c.index(src, dst)]
}

// Set writes the value of a pair.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.values[c.index(src, dst)] = value
}

// Add increments the value of a pair.
func (c *ConnMat) Add(src, dst int, delta float64) {
	c.values[c.index(src, dst)] += delta
}

// SumSource sums everything a node sends.
func (c *ConnMat) SumSource(src int) float64 {
	return c.sumLine(c.index(src, 0), 1)
}

// SumDest sums everything a node receives.
func (c *ConnMat) SumDest(dst int) float64 {
	return c.sumLine(c.index(0, dst), c.numNodes)
}

// ScaleSource multiplies everything a node sends.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	c.scaleLine(c.index(src, 0), 1, scale)
}

// ScaleDest multiplies everything a node receives.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	c.scaleLine(c.index(0, dst), c.numNodes, scale)
}

func (c *ConnMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= c.numNodes || dst >= c.numNodes {
		panic(fmt.Sprintf("pair (%d, %d) out of bounds for %d nodes", src, dst, c.numNodes))
	}
	return src*c.numNodes + dst
}

func (c *ConnMat) sumLine(start, stride int) float64 {
	var sum float64
	for i := 0; i < c.numNodes; i++ {
		sum += c.values[start+i*stride]
	}
	return sum
}

func (c *ConnMat) scaleLine(start, stride int, scale float64) {
	for i := 0; i < c.numNodes; i++ {
		c.values[start+i*stride] *= scale
	}
}
