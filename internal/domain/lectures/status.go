package lectures

// Status is the lifecycle position of a lecture. Values other than Failed are
// ordered; a lecture only ever moves forward along that order.
type Status string

const (
	StatusNew         Status = "new"
	StatusParsing     Status = "parsing"
	StatusProcessing  Status = "processing"
	StatusExplaining  Status = "explaining"
	StatusSummarising Status = "summarising"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
)

var statusRank = map[Status]int{
	StatusNew:         0,
	StatusParsing:     1,
	StatusProcessing:  2,
	StatusExplaining:  3,
	StatusSummarising: 4,
	StatusComplete:    5,
}

func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Before reports whether s comes strictly earlier in the pipeline than o.
// Failed is never before anything.
func (s Status) Before(o Status) bool {
	rs, ok1 := statusRank[s]
	ro, ok2 := statusRank[o]
	return ok1 && ok2 && rs < ro
}

// CanTransition reports whether moving from s to next respects the pipeline
// order. Any non-terminal status may fail.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return s.Before(next)
}

// Stage names, used as error_details slots and as job topics.
const (
	StageIngestion     = "ingestion"
	StageImageAnalysis = "image_analysis"
	StageEmbedding     = "embedding"
	StageExplanation   = "explanation"
	StageSummary       = "summary"
)
