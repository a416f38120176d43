package stroke

// Augment drops points inside line segments to simulate a coarser sampling
// rate. Once three or more consecutive pen-down points have been seen, every
// further pen-down point is, with probability prob, folded into the last
// kept point (offsets summed) instead of being kept. Points at either end of
// a segment are never dropped, so nothing is merged across a pen lift.
//
// The input is never modified. One value is drawn from rng per point, which
// keeps runs reproducible for a given seed regardless of prob.
func Augment(s Sequence, prob float64, rng Float64er) Sequence {
	result := make(Sequence, 0, len(s))
	prevLift := float32(1)
	count := 0
	for _, candidate := range s {
		if candidate.Lift == 1 || prevLift == 1 {
			count = 0
		} else {
			count++
		}
		urnd := rng.Float64()
		if candidate.Lift == 0 && prevLift == 0 && count > 2 && urnd < prob {
			last := &result[len(result)-1]
			last.DX += candidate.DX
			last.DY += candidate.DY
			continue
		}
		result = append(result, candidate)
		prevLift = candidate.Lift
	}
	return result
}
