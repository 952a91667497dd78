package layout

import (
	"math"
	"sort"

	"graphrag/store"
)

// springIterations is the fixed number of force-directed passes. The
// layout is a readability aid, not a convergence exercise.
const springIterations = 40

// spring runs a Fruchterman-Reingold pass over pos in place. Pinned
// nodes exert forces but never move. area scales the ideal edge length
// k = 0.6*sqrt(area/n).
func spring(pos map[string]Point, pinned map[string]bool, edges []store.Edge, area float64) {
	n := len(pos)
	if n < 2 {
		return
	}

	ids := make([]string, 0, n)
	for id := range pos {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	k := 0.6 * math.Sqrt(area/float64(n))
	temp := 0.1 * math.Sqrt(area)
	cool := temp / float64(springIterations+1)

	disp := make(map[string]Point, n)

	for iter := 0; iter < springIterations; iter++ {
		for _, id := range ids {
			disp[id] = Point{}
		}

		// Repulsion between all pairs.
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				dx := pos[a].X - pos[b].X
				dy := pos[a].Y - pos[b].Y
				dist := math.Hypot(dx, dy)
				if dist < 1e-6 {
					// Coincident points push apart along a stable axis.
					dx, dy, dist = 1e-3, 1e-3, 1e-3*math.Sqrt2
				}
				f := k * k / dist
				disp[a] = Point{X: disp[a].X + dx/dist*f, Y: disp[a].Y + dy/dist*f}
				disp[b] = Point{X: disp[b].X - dx/dist*f, Y: disp[b].Y - dy/dist*f}
			}
		}

		// Attraction along edges.
		for _, e := range edges {
			pa, okA := pos[e.SourceID]
			pb, okB := pos[e.TargetID]
			if !okA || !okB {
				continue
			}
			dx := pa.X - pb.X
			dy := pa.Y - pb.Y
			dist := math.Hypot(dx, dy)
			if dist < 1e-6 {
				continue
			}
			f := dist * dist / k
			disp[e.SourceID] = Point{X: disp[e.SourceID].X - dx/dist*f, Y: disp[e.SourceID].Y - dy/dist*f}
			disp[e.TargetID] = Point{X: disp[e.TargetID].X + dx/dist*f, Y: disp[e.TargetID].Y + dy/dist*f}
		}

		for _, id := range ids {
			if pinned[id] {
				continue
			}
			d := disp[id]
			dist := math.Hypot(d.X, d.Y)
			if dist < 1e-9 {
				continue
			}
			step := math.Min(dist, temp)
			pos[id] = Point{X: pos[id].X + d.X/dist*step, Y: pos[id].Y + d.Y/dist*step}
		}

		temp -= cool
		if temp <= 0 {
			break
		}
	}
}
