package world

import "math"

// diversityOrder is the Hill number order q used by the diversity index.
const diversityOrder = 2.0

// minDiversityDist guards against a tree sitting exactly on a sample
// point, which would otherwise divide by zero; no tick-algorithm value
// in the spec depends on distinguishing an exact zero from a very small
// distance, so clamping here costs nothing in practice and keeps the
// index finite and deterministic.
const minDiversityDist = 1e-6

// diversityAt computes the Hill-number-like diversity index D(p, r)
// used by the per-cell land-health update: trees within r of p are
// weighted by contribution(t)*4/dist, grouped by species into relative
// abundances p_s, and combined via a Hill number of order q=2, rescaled
// to [0,1] by (D-1)/(|species|-1).
func (w *World) diversityAt(p Vec2, r float64) float64 {
	var totalWeight float64
	var speciesWeight [len(AllSpecies)]float64

	for _, t := range w.Trees {
		d := t.Pos.Dist(p)
		if d >= r {
			continue
		}
		contribution := t.DiversityContribution()
		if contribution == 0 {
			continue
		}
		if d < minDiversityDist {
			d = minDiversityDist
		}
		weight := contribution * 4 / d
		totalWeight += weight
		speciesWeight[t.Species] += weight
	}

	if totalWeight <= 0 {
		return 0
	}

	var sumSq float64
	for _, sw := range speciesWeight {
		if sw <= 0 {
			continue
		}
		pShare := sw / totalWeight
		sumSq += math.Pow(pShare, diversityOrder)
	}
	if sumSq <= 0 {
		return 0
	}

	d := math.Pow(sumSq, -1/(diversityOrder-1))
	return (d - 1) / float64(len(AllSpecies)-1)
}
