package dispatch

import (
	"fmt"

	"github.com/foxzi/herald/internal/notify"
)

// UnknownProvider groups results that carry no provider name
const UnknownProvider = "unknown"

// Tally counts outcomes for one provider
type Tally struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Summary is the aggregated outcome of a batch. It is derived from the
// results and always satisfies SentCount + FailedCount == TotalCount.
type Summary struct {
	SentCount   int              `json:"sent_count"`
	FailedCount int              `json:"failed_count"`
	TotalCount  int              `json:"total_count"`
	Providers   map[string]Tally `json:"providers"`
}

// Reduce aggregates results without modifying them
func Reduce(results []notify.Result) Summary {
	s := Summary{Providers: make(map[string]Tally)}
	for _, r := range results {
		provider := r.Provider
		if provider == "" {
			provider = UnknownProvider
		}
		t := s.Providers[provider]
		if r.Success {
			t.Sent++
			s.SentCount++
		} else {
			t.Failed++
			s.FailedCount++
		}
		s.Providers[provider] = t
	}
	s.TotalCount = s.SentCount + s.FailedCount
	return s
}

// String renders "X sent, Y failed"
func (s Summary) String() string {
	return fmt.Sprintf("%d sent, %d failed", s.SentCount, s.FailedCount)
}

// RetryableTargets lists failed targets an external scheduler may
// resubmit, in result order
func RetryableTargets(results []notify.Result) []string {
	var targets []string
	for _, r := range results {
		if r.Retryable() {
			targets = append(targets, r.Target)
		}
	}
	return targets
}
