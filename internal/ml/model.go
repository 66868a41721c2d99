// Package ml loads and evaluates the pre-trained gradient-boosted tree
// classifier. Models are trained offline and shipped as a JSON artifact;
// this package only does inference.
package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/sawpanic/microrun/internal/signal"
)

// Node is one split or leaf in a tree. Leaf nodes carry Value; split
// nodes route on Feature < Threshold to Left, else Right. Missing
// features evaluate as 0.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

// Tree is a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Model is a serialized GBDT ensemble. Score sums the leaf values of
// every tree on top of BaseScore and squashes through a sigmoid, so the
// output is a probability in (0,1).
type Model struct {
	Version   string   `json:"version"`
	Features  []string `json:"features"`
	BaseScore float64  `json:"base_score"`
	Trees     []Tree   `json:"trees"`
}

// Load reads and validates a model artifact from disk.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid model %q: %w", path, err)
	}
	return &m, nil
}

func (m *Model) validate() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("no features declared")
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("no trees")
	}
	for ti, tree := range m.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range tree.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= len(m.Features) {
				return fmt.Errorf("tree %d node %d references feature %d of %d", ti, ni, n.Feature, len(m.Features))
			}
			if n.Left < 0 || n.Left >= len(tree.Nodes) || n.Right < 0 || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d has out-of-range child", ti, ni)
			}
			// Children must point forward so traversal terminates.
			if n.Left <= ni || n.Right <= ni {
				return fmt.Errorf("tree %d node %d has non-forward child", ti, ni)
			}
		}
	}
	return nil
}

// ExpectsFeatures reports whether the model was trained on exactly the
// given feature list, in order.
func (m *Model) ExpectsFeatures(names []string) bool {
	if len(m.Features) != len(names) {
		return false
	}
	for i, n := range names {
		if m.Features[i] != n {
			return false
		}
	}
	return true
}

// Score evaluates the ensemble on a named feature map and returns a
// probability. Features absent from the map score as 0.
func (m *Model) Score(features signal.FeatureVector) (float64, error) {
	row := make([]float64, len(m.Features))
	for i, name := range m.Features {
		row[i] = features[name]
	}

	sum := m.BaseScore
	for ti := range m.Trees {
		leaf, err := m.Trees[ti].evaluate(row)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", ti, err)
		}
		sum += leaf
	}
	return sigmoid(sum), nil
}

func (t *Tree) evaluate(row []float64) (float64, error) {
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := t.Nodes[idx]
		if n.Leaf {
			return n.Value, nil
		}
		if row[n.Feature] < n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return 0, fmt.Errorf("traversal did not reach a leaf")
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
