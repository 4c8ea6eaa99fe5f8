package engine

import "math/rand/v2"

var Prompts = []string{
	"a dragon eating ice cream",
	"an astronaut riding a bicycle",
	"a cat being the president",
	"a haunted library at midnight",
	"a robot learning to dance",
	"a mermaid in a coffee shop",
	"a wizard stuck in traffic",
	"a dinosaur at the gym",
	"a penguin surfing a tsunami",
	"a dog conducting an orchestra",
}

// RandomPrompt picks uniformly from Prompts.
func RandomPrompt() string {
	return Prompts[rand.IntN(len(Prompts))]
}
