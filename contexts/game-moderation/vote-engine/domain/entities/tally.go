package entities

// TallyResult is the weighted aggregation of one round's ballots. MaxVoted
// lists every target sharing the maximum weight-sum in first-seen ballot
// order; ties are reported, never silently broken here.
type TallyResult struct {
	Counts   map[PlayerID]int
	MaxVoted []PlayerID
	IsTie    bool
}

// MaxCount returns the weight-sum attained by the leading target(s), zero for
// an empty tally.
func (r TallyResult) MaxCount() int {
	if len(r.MaxVoted) == 0 {
		return 0
	}
	return r.Counts[r.MaxVoted[0]]
}

type DecisionKind string

const (
	DecisionExecute    DecisionKind = "execute"
	DecisionNone       DecisionKind = "none"
	DecisionRunoff     DecisionKind = "runoff"
	DecisionExecuteAll DecisionKind = "execute_all"
)

// ExecutionDecision maps a tally plus regulation policy onto one of four
// outcomes: execute a single target, execute nobody, demand a runoff among
// the tied candidates, or batch-execute every tied candidate.
type ExecutionDecision struct {
	Kind       DecisionKind
	Target     PlayerID
	Candidates []PlayerID
}

func ExecuteDecision(target PlayerID) ExecutionDecision {
	return ExecutionDecision{Kind: DecisionExecute, Target: target}
}

func NoExecutionDecision() ExecutionDecision {
	return ExecutionDecision{Kind: DecisionNone, Target: -1}
}

func RunoffDecision(candidates []PlayerID) ExecutionDecision {
	return ExecutionDecision{Kind: DecisionRunoff, Target: -1, Candidates: candidates}
}

func ExecuteAllDecision(candidates []PlayerID) ExecutionDecision {
	return ExecutionDecision{Kind: DecisionExecuteAll, Target: -1, Candidates: candidates}
}
