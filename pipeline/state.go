// Package pipeline sequences the consensus stages for one sample:
// SSCS calling, duplex merging, optional singleton correction, and
// the final unique-molecule merge, with sort/index normalization
// between stages. Stage transitions form an explicit state machine so
// the control flow is testable without touching real files, and
// external tools (aligner, sort, index) sit behind a capability
// interface so they can be faked.
package pipeline

import "fmt"

// State is a checkpoint in one sample's progress. A sample only moves
// forward; a failed transition halts the sample where it stands and
// completed artifacts are left in place for inspection.
type State int

const (
	// StateRaw is the initial state: an aligned, sorted, indexed
	// input BAM exists and nothing else.
	StateRaw State = iota
	// StateSSCSDone: SSCS, singleton, and bad-read BAMs written.
	StateSSCSDone
	// StateSSCSSorted: those outputs sorted and indexed.
	StateSSCSSorted
	// StateDCSDone: DCS and unpaired-SSCS BAMs written.
	StateDCSDone
	// StateDCSSorted: those outputs sorted and indexed.
	StateDCSSorted
	// StateSCDone: singleton correction outputs written. Skipped when
	// correction is disabled.
	StateSCDone
	// StateSCSorted: correction outputs sorted, and the SSCS+SC union
	// built and sorted. Skipped when correction is disabled.
	StateSCSorted
	// StateMerged: the final all-unique-molecules BAM exists, sorted
	// and indexed.
	StateMerged
	// StateFinalized: stats, timing log, histogram, and plot sit at
	// the sample root; intermediates removed if cleanup was asked.
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateRaw:
		return "RAW"
	case StateSSCSDone:
		return "SSCS_DONE"
	case StateSSCSSorted:
		return "SSCS_SORTED"
	case StateDCSDone:
		return "DCS_DONE"
	case StateDCSSorted:
		return "DCS_SORTED"
	case StateSCDone:
		return "SC_DONE"
	case StateSCSorted:
		return "SC_SORTED"
	case StateMerged:
		return "MERGED"
	case StateFinalized:
		return "FINALIZED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Next returns the state that follows s. The SC states drop out of
// the chain when singleton correction is disabled. Finalized is
// terminal.
func Next(s State, singletonCorrection bool) State {
	switch s {
	case StateDCSSorted:
		if singletonCorrection {
			return StateSCDone
		}
		return StateMerged
	case StateFinalized:
		return StateFinalized
	default:
		return s + 1
	}
}
