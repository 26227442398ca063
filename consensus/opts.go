package consensus

import (
	"fmt"
	"math/big"
	"runtime"
)

// DefaultCutoff is the minimum fraction of a family that must agree
// on a base for it to be called in the consensus.
const DefaultCutoff = "0.7"

// Opts configures the consensus stage drivers. There is no
// process-wide state; every driver receives its configuration
// explicitly.
type Opts struct {
	// BedPath is the region list used to segment the input. Empty
	// disables segmentation and the whole input becomes one segment.
	BedPath string

	// Cutoff is the minimum agreeing fraction for a consensus call.
	// Comparisons against it are exact rational comparisons, so a
	// family of 10 with 7 agreeing reads meets a cutoff of 0.7.
	Cutoff *big.Rat

	// Parallelism bounds the number of segments processed at once.
	// <=0 means runtime.NumCPU().
	Parallelism int
}

// ParseCutoff parses a decimal cutoff string into an exact rational.
// The cutoff must lie in (0, 1].
func ParseCutoff(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("malformed cutoff %q", s)
	}
	if r.Sign() <= 0 || r.Cmp(big.NewRat(1, 1)) > 0 {
		return nil, fmt.Errorf("cutoff %q outside (0,1]", s)
	}
	return r, nil
}

func (o *Opts) parallelism() int {
	if o.Parallelism > 0 {
		return o.Parallelism
	}
	return runtime.NumCPU()
}
