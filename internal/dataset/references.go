package dataset

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Flattened is the single-string target used when rendering an example.
type Flattened struct {
	Text string
	// Short is set when fewer references were available than requested.
	Short bool
}

// FlattenReferences picks nRefs references of targets with rng and joins them
// with delimiter. With more than one reference requested, each reference is
// prefixed with its position ("0: ...") so a model can tell them apart.
func FlattenReferences(targets []string, nRefs int, delimiter string, rng *rand.Rand) Flattened {
	if nRefs < 1 {
		nRefs = 1
	}
	switch len(targets) {
	case 0:
		return Flattened{Short: true}
	case 1:
		return Flattened{Text: targets[0], Short: nRefs > 1}
	}

	n := min(nRefs, len(targets))
	picked := make([]string, 0, n)
	for _, i := range rng.Perm(len(targets))[:n] {
		picked = append(picked, targets[i])
	}
	if nRefs > 1 {
		for i, ref := range picked {
			picked[i] = fmt.Sprintf("%d: %s", i, ref)
		}
	}
	return Flattened{
		Text:  strings.Join(picked, delimiter),
		Short: n < nRefs,
	}
}
