package expr

import (
	"math/rand/v2"

	"github.com/sw965/omw/mathx/randx"
)

var randomConstants = []float64{0, 1, 2, 3, 5, 7, 0.5}

// RandomTree grows a random expression of at most maxDepth levels over
// numVariables inputs. Leaves are variables or small constants.
func RandomTree(rng *rand.Rand, maxDepth, numVariables int) *Node {
	if maxDepth <= 1 || rng.IntN(4) == 0 {
		if numVariables > 0 && randx.Bool(rng) {
			return Variable(rng.IntN(numVariables))
		}
		return Constant(randomConstants[rng.IntN(len(randomConstants))])
	}
	if randx.Bool(rng) {
		ops := UnaryOps()
		return Unary(ops[rng.IntN(len(ops))], RandomTree(rng, maxDepth-1, numVariables))
	}
	ops := BinaryOps()
	return Binary(
		ops[rng.IntN(len(ops))],
		RandomTree(rng, maxDepth-1, numVariables),
		RandomTree(rng, maxDepth-1, numVariables),
	)
}
