package errors

import "errors"

// Validation failures: always recoverable, reported to the caller without
// aborting the round. Each register/change call is independent; one invalid
// ballot never discards previously accepted ballots.
var (
	ErrInvalidBallot           = errors.New("invalid ballot")
	ErrInvalidVoter            = errors.New("voter is unknown to the round")
	ErrInvalidTarget           = errors.New("target is not a valid player")
	ErrDeadVoter               = errors.New("voter is not alive")
	ErrIneligibleTarget        = errors.New("target is not eligible this round")
	ErrSelfVoteForbidden       = errors.New("self voting is forbidden")
	ErrRoleConstraintViolation = errors.New("vote violates a role constraint")
	ErrNoPreviousVote          = errors.New("voter has not voted this round")
)

// Precondition failures: surfaced from round-lifecycle and execution calls.
var (
	ErrNoActiveRound = errors.New("no active voting round")
	ErrInvalidPhase  = errors.New("voting is not allowed in the current phase")
	ErrNoVoters      = errors.New("round has no eligible voters")
	ErrNoTargets     = errors.New("round has no eligible targets")
	ErrAlreadyDead   = errors.New("player is already dead")
	ErrNoCandidates  = errors.New("no candidates to execute")
	ErrUndecided     = errors.New("decision still requires a runoff")
)

// Infrastructure conflicts reported by adapters.
var (
	ErrConflict = errors.New("vote engine state conflict")
)

// IsValidation reports whether err belongs to the recoverable validation
// class, as opposed to a precondition or infrastructure failure.
func IsValidation(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidBallot,
		ErrInvalidVoter,
		ErrInvalidTarget,
		ErrDeadVoter,
		ErrIneligibleTarget,
		ErrSelfVoteForbidden,
		ErrRoleConstraintViolation,
		ErrNoPreviousVote,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
