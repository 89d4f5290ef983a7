package gbt

const (
	// lambda is the L2 penalty on leaf weights.
	lambda = 1.0
	// minChildWeight is the minimum hessian sum per child. With squared error
	// the hessian is 1 per row, so this is a row count.
	minChildWeight = 1.0
)

// Node is one entry of a flattened regression tree. Internal nodes send x
// left when x[Feature] < Threshold.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// Tree is a regression tree stored as a node array, root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(row []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// grower builds a single tree over binned data.
type grower struct {
	binned   [][]uint16
	bins     *binner
	grad     []float64
	features []int
	maxDepth int
	eta      float64

	histG [MaxBins]float64
	histH [MaxBins]float64

	nodes []Node
}

func (g *grower) build(rows []int) Tree {
	g.nodes = g.nodes[:0]
	g.grow(rows, 0)
	return Tree{Nodes: append([]Node(nil), g.nodes...)}
}

func (g *grower) grow(rows []int, depth int) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{})

	var sumG float64
	for _, r := range rows {
		sumG += g.grad[r]
	}
	sumH := float64(len(rows))

	feature, bin, ok := -1, 0, false
	if depth < g.maxDepth && len(rows) >= 2 {
		feature, bin, ok = g.bestSplit(rows, sumG, sumH)
	}
	if !ok {
		g.nodes[idx] = Node{Leaf: true, Value: -sumG / (sumH + lambda) * g.eta}
		return idx
	}

	// Partition in place: rows with bin <= split bin go first.
	col := g.binned[feature]
	k := 0
	for i, r := range rows {
		if int(col[r]) <= bin {
			rows[i], rows[k] = rows[k], rows[i]
			k++
		}
	}

	left := g.grow(rows[:k], depth+1)
	right := g.grow(rows[k:], depth+1)
	g.nodes[idx] = Node{
		Feature:   feature,
		Threshold: g.bins.cuts[feature][bin],
		Left:      left,
		Right:     right,
	}
	return idx
}

// bestSplit scans the histograms of every sampled feature and returns the
// split with the largest positive gain. Ties keep the first candidate found.
func (g *grower) bestSplit(rows []int, sumG, sumH float64) (int, int, bool) {
	parent := sumG * sumG / (sumH + lambda)
	bestGain := 0.0
	bestFeature, bestBin := -1, 0

	for _, f := range g.features {
		nb := g.bins.numBins(f)
		if nb < 2 {
			continue
		}
		histG, histH := g.histG[:nb], g.histH[:nb]
		for b := range histG {
			histG[b], histH[b] = 0, 0
		}
		col := g.binned[f]
		for _, r := range rows {
			histG[col[r]] += g.grad[r]
			histH[col[r]]++
		}

		var gl, hl float64
		for b := 0; b < nb-1; b++ {
			gl += histG[b]
			hl += histH[b]
			gr, hr := sumG-gl, sumH-hl
			if hl < minChildWeight || hr < minChildWeight {
				continue
			}
			gain := 0.5 * (gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent)
			if gain > bestGain {
				bestGain, bestFeature, bestBin = gain, f, b
			}
		}
	}
	return bestFeature, bestBin, bestFeature >= 0
}
