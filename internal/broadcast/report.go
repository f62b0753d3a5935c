package broadcast

import "time"

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageResolve Stage = "resolve"
	StageSend    Stage = "send"
)

// ItemResult is the outcome of one batch slot.
type ItemResult struct {
	CycleID    uint64 `json:"cycle"`
	Index      int    `json:"index"`
	SentItemID string `json:"id,omitempty"`
	SourceRef  string `json:"ref,omitempty"`
	Stage      Stage  `json:"stage,omitempty"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes one cycle. Partial success is the normal case.
type Report struct {
	CycleID       uint64        `json:"cycle"`
	RunID         string        `json:"run_id"`
	Attempted     int           `json:"attempted"`
	Sent          int           `json:"sent"`
	FetchFailed   int           `json:"fetch_failed"`
	ResolveFailed int           `json:"resolve_failed"`
	SendFailed    int           `json:"send_failed"`
	Interrupted   bool          `json:"interrupted,omitempty"`
	Started       time.Time     `json:"started"`
	Took          time.Duration `json:"took"`
}

func (r Report) Failed() int { return r.FetchFailed + r.ResolveFailed + r.SendFailed }

func (r *Report) record(res ItemResult) {
	if res.Err == nil {
		r.Sent++
		return
	}
	switch res.Stage {
	case StageFetch:
		r.FetchFailed++
	case StageResolve:
		r.ResolveFailed++
	case StageSend:
		r.SendFailed++
	}
}
