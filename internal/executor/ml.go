package executor

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
)

const (
	kmeansMaxIter   = 300
	forestTrees     = 100
	forestSubsample = 256
)

// Centroid describes one cluster in the original column units.
type Centroid struct {
	Cluster int                `json:"cluster"`
	Label   string             `json:"label"`
	Size    int                `json:"size"`
	Means   map[string]float64 `json:"means"`
}

// featureMatrix returns the named numeric columns as n×d rows with nulls as 0.
func (c *opContext) featureMatrix(names []string, role string) ([][]float64, []string, error) {
	n := c.ds.NumRows()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, len(names))
	}
	canon := make([]string, len(names))
	for j, name := range names {
		col, err := c.numericColumn(name, role)
		if err != nil {
			return nil, nil, err
		}
		canon[j] = col.Name
		for i, v := range floatsOrZero(col) {
			rows[i][j] = v
		}
	}
	return rows, canon, nil
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// kmeansPlusPlus picks k initial centers with D² weighting.
func kmeansPlusPlus(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := [][]float64{append([]float64(nil), x[rng.Intn(len(x))]...)}
	dist := make([]float64, len(x))
	for len(centers) < k {
		var total float64
		for i, p := range x {
			best := math.Inf(1)
			for _, ctr := range centers {
				if d := sqDist(p, ctr); d < best {
					best = d
				}
			}
			dist[i] = best
			total += best
		}
		next := rng.Intn(len(x))
		if total > 0 {
			r := rng.Float64() * total
			for i, d := range dist {
				r -= d
				if r <= 0 {
					next = i
					break
				}
			}
		}
		centers = append(centers, append([]float64(nil), x[next]...))
	}
	return centers
}

func kmeans(x [][]float64, k int, seed int64) (assign []int, iters int) {
	rng := rand.New(rand.NewSource(seed))
	centers := kmeansPlusPlus(x, k, rng)
	assign = make([]int, len(x))
	for i := range assign {
		assign[i] = -1
	}
	d := len(x[0])
	for iters = 1; iters <= kmeansMaxIter; iters++ {
		changed := false
		for i, p := range x {
			best, bestD := 0, math.Inf(1)
			for j, ctr := range centers {
				if dd := sqDist(p, ctr); dd < bestD {
					best, bestD = j, dd
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for j := range sums {
			sums[j] = make([]float64, d)
		}
		for i, p := range x {
			counts[assign[i]]++
			for f, v := range p {
				sums[assign[i]][f] += v
			}
		}
		for j := range centers {
			if counts[j] == 0 {
				continue
			}
			for f := range centers[j] {
				centers[j][f] = sums[j][f] / float64(counts[j])
			}
		}
	}
	return assign, iters
}

func cluster(c *opContext) (Result, error) {
	names := c.numericTargets()
	if len(names) < 2 {
		return Result{}, &MissingColumnError{Role: "second numeric column for clustering"}
	}
	n := c.ds.NumRows()
	if n == 0 {
		return Result{}, &ExecutionFailureError{Op: "clustering", Err: fmt.Errorf("dataset has no rows")}
	}
	k := paramInt(c.params, 3, "n_clusters", "clusters", "k")
	if k < 1 {
		return Result{}, &intent.InvalidPlanError{Reason: fmt.Sprintf("n_clusters must be at least 1, got %d", k)}
	}
	if k > n {
		k = n
	}
	seed := int64(paramInt(c.params, 42, "seed", "random_state"))

	raw, names, err := c.featureMatrix(names, "clustering column")
	if err != nil {
		return Result{}, err
	}
	scaled := make([][]float64, n)
	for i := range scaled {
		scaled[i] = make([]float64, len(names))
	}
	colVals := make([]float64, n)
	for j := range names {
		for i := range raw {
			colVals[i] = raw[i][j]
		}
		for i, z := range standardize(colVals) {
			scaled[i][j] = z
		}
	}
	assign, iters := kmeans(scaled, k, seed)

	centroids := make([]Centroid, k)
	for j := range centroids {
		centroids[j] = Centroid{Cluster: j, Label: fmt.Sprintf("Segment %d", j+1), Means: map[string]float64{}}
	}
	labels := make([]string, n)
	ids := make([]float64, n)
	for i, a := range assign {
		ids[i] = float64(a)
		labels[i] = centroids[a].Label
		centroids[a].Size++
		for f, name := range names {
			centroids[a].Means[name] += raw[i][f]
		}
	}
	for j := range centroids {
		if centroids[j].Size == 0 {
			continue
		}
		for name := range centroids[j].Means {
			centroids[j].Means[name] = round(centroids[j].Means[name]/float64(centroids[j].Size), 4)
		}
	}
	out, err := c.ds.WithColumn(numbersColumn("Cluster", ids))
	if err == nil {
		out, err = out.WithColumn(stringsColumn("Cluster_Label", labels))
	}
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "clustering", Err: err}
	}
	c.log.Debug().Int("k", k).Int("iterations", iters).Msg("kmeans converged")
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Clustered %d rows into %d segments using %s", n, k, strings.Join(names, ", ")),
		Details:     map[string]any{"centroids": centroids, "n_clusters": k, "iterations": iters},
	}, nil
}

type iNode struct {
	feature     int
	split       float64
	left, right *iNode
	size        int
}

// avgPathLength is c(n), the average unsuccessful search length in a BST of n nodes.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func buildITree(x [][]float64, idx []int, depth, limit int, rng *rand.Rand) *iNode {
	if depth >= limit || len(idx) <= 1 {
		return &iNode{size: len(idx)}
	}
	d := len(x[0])
	var splittable []int
	lo := make([]float64, d)
	hi := make([]float64, d)
	for f := 0; f < d; f++ {
		lo[f], hi[f] = math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			lo[f] = math.Min(lo[f], x[i][f])
			hi[f] = math.Max(hi[f], x[i][f])
		}
		if hi[f] > lo[f] {
			splittable = append(splittable, f)
		}
	}
	if len(splittable) == 0 {
		return &iNode{size: len(idx)}
	}
	f := splittable[rng.Intn(len(splittable))]
	split := lo[f] + rng.Float64()*(hi[f]-lo[f])
	var left, right []int
	for _, i := range idx {
		if x[i][f] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &iNode{
		feature: f,
		split:   split,
		left:    buildITree(x, left, depth+1, limit, rng),
		right:   buildITree(x, right, depth+1, limit, rng),
	}
}

func (t *iNode) pathLength(p []float64, depth int) float64 {
	if t.left == nil {
		return float64(depth) + avgPathLength(t.size)
	}
	if p[t.feature] < t.split {
		return t.left.pathLength(p, depth+1)
	}
	return t.right.pathLength(p, depth+1)
}

// isolationScores returns the negated anomaly score per row; lower is more anomalous.
func isolationScores(x [][]float64, seed int64) []float64 {
	n := len(x)
	psi := forestSubsample
	if psi > n {
		psi = n
	}
	limit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))
	rng := rand.New(rand.NewSource(seed))
	trees := make([]*iNode, forestTrees)
	for t := range trees {
		sample := rng.Perm(n)[:psi]
		trees[t] = buildITree(x, sample, 0, limit, rng)
	}
	norm := avgPathLength(psi)
	if norm == 0 {
		norm = 1
	}
	scores := make([]float64, n)
	for i, p := range x {
		var total float64
		for _, t := range trees {
			total += t.pathLength(p, 0)
		}
		scores[i] = -math.Pow(2, -(total/float64(len(trees)))/norm)
	}
	return scores
}

func detectAnomalies(c *opContext) (Result, error) {
	names := c.numericTargets()
	if len(names) == 0 {
		return Result{}, &MissingColumnError{Role: "numeric column for anomaly detection"}
	}
	contamination := paramFloat(c.params, 0.1, "contamination")
	if contamination <= 0 || contamination > 0.5 {
		return Result{}, &intent.InvalidPlanError{Reason: fmt.Sprintf("contamination must be in (0, 0.5], got %g", contamination)}
	}
	n := c.ds.NumRows()
	if n == 0 {
		return Result{}, &ExecutionFailureError{Op: "anomaly_detection", Err: fmt.Errorf("dataset has no rows")}
	}
	x, names, err := c.featureMatrix(names, "anomaly column")
	if err != nil {
		return Result{}, err
	}
	scores := isolationScores(x, int64(paramInt(c.params, 42, "seed", "random_state")))

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
	flagged := int(math.Ceil(contamination * float64(n)))
	flags := make([]dataset.Value, n)
	for i := range flags {
		flags[i] = dataset.Bool(false)
	}
	for _, i := range order[:flagged] {
		flags[i] = dataset.Bool(true)
	}
	rounded := make([]float64, n)
	for i, s := range scores {
		rounded[i] = round(s, 6)
	}
	out, err := c.ds.WithColumn(numbersColumn("Anomaly_Score", rounded))
	if err == nil {
		out, err = out.WithColumn(&dataset.Column{Name: "Is_Anomaly", Type: dataset.TypeBoolean, Values: flags})
	}
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "anomaly_detection", Err: err}
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Flagged %d of %d rows as anomalies using %s", flagged, n, strings.Join(names, ", ")),
		Details:     map[string]any{"anomalies": flagged, "contamination": contamination, "columns": names},
	}, nil
}
