package entities

// Rule is a regulation value controlling how a tied tally is resolved.
type Rule string

const (
	RuleRunoff       Rule = "runoff"
	RuleRandom       Rule = "random"
	RuleNoExecution  Rule = "no_execution"
	RuleAllExecution Rule = "all_execution"
)

const defaultMaxRunoffAttempts = 3

// VotingPolicy is the immutable per-round regulation set. It is passed
// explicitly into round starts and decisions so outcomes are pure functions
// of (ballots, policy).
type VotingPolicy struct {
	ExecutionRule     Rule
	RunoffTieRule     Rule
	AllowSelfVote     bool
	RevealRoleOnDeath bool
	MaxRunoffAttempts int
}

// EffectiveMaxRunoffAttempts applies the default bound that guarantees
// termination when repeated ties occur.
func (p VotingPolicy) EffectiveMaxRunoffAttempts() int {
	if p.MaxRunoffAttempts <= 0 {
		return defaultMaxRunoffAttempts
	}
	return p.MaxRunoffAttempts
}
