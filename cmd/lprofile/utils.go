package main

import (
	"math"
)

// getNumWorkers returns one worker per profile up to minNumWorkers, then
// grows by minNumWorkers for every 100 profiles.
func getNumWorkers(numProfiles, minNumWorkers int) int {
	if numProfiles < minNumWorkers {
		return numProfiles
	}
	v := int(math.Ceil((float64(numProfiles) / 100) * float64(minNumWorkers)))
	return max(v, minNumWorkers)
}
