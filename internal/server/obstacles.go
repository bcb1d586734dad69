package server

import (
	"math"
	"math/rand"

	"github.com/hersh/arena/internal/protocol"
)

const (
	worldMargin         = 100
	obstacleMinDistance = 150
	obstacleAttempts    = 20
	DefaultObstacles    = 40
)

// GenerateObstacles rejection-samples up to count points inside the world
// margin, keeping every pair at least obstacleMinDistance apart. A point
// that cannot be placed within obstacleAttempts tries is skipped, so fewer
// than count points may come back.
func GenerateObstacles(rng *rand.Rand, count int) []protocol.Point {
	obstacles := make([]protocol.Point, 0, count)

	tooClose := func(x, y float64) bool {
		for _, o := range obstacles {
			if math.Hypot(o.X-x, o.Y-y) < obstacleMinDistance {
				return true
			}
		}
		return false
	}

	span := protocol.WorldSize - 2*worldMargin
	for i := 0; i < count; i++ {
		for attempt := 0; attempt < obstacleAttempts; attempt++ {
			x := float64(rng.Intn(span) + worldMargin)
			y := float64(rng.Intn(span) + worldMargin)
			if !tooClose(x, y) {
				obstacles = append(obstacles, protocol.Point{X: x, Y: y})
				break
			}
		}
	}
	return obstacles
}

// randomPoint picks a spawn position inside the world margin.
func randomPoint(rng *rand.Rand) (float64, float64) {
	span := protocol.WorldSize - 2*worldMargin
	return float64(rng.Intn(span) + worldMargin), float64(rng.Intn(span) + worldMargin)
}
