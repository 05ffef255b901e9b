package domain

import (
	"fmt"
	"math/rand"
)

var nameAdjectives = []string{
	"fast", "calm", "bold", "keen", "warm", "wild", "neat", "late", "loud", "shy",
}

var nameAnimals = []string{
	"lion", "wolf", "hawk", "seal", "lynx", "crow", "deer", "toad", "moth", "crab",
}

// GenerateName produces a display name like "fast-lion6677" for clients that
// register without choosing one. Names always satisfy ValidateName.
func GenerateName() string {
	adj := nameAdjectives[rand.Intn(len(nameAdjectives))]
	animal := nameAnimals[rand.Intn(len(nameAnimals))]
	return fmt.Sprintf("%s-%s%04d", adj, animal, rand.Intn(10000))
}
