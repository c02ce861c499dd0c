package advisory

import (
	"context"
	"sync"
	"time"
)

// Adviser answers advisory requests. *Client implements it.
type Adviser interface {
	Advise(ctx context.Context, req Request) (Response, error)
}

// Advisor holds the current scanning interval and updates it from advice.
// A failed request leaves the interval unchanged.
type Advisor struct {
	adviser Adviser

	mu      sync.RWMutex
	current time.Duration
}

// NewAdvisor starts at InitialScanSpeed.
func NewAdvisor(a Adviser) *Advisor {
	return &Advisor{adviser: a, current: InitialScanSpeed}
}

// Current returns the scanning interval in force.
func (a *Advisor) Current() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Adjust asks for new advice. On error the previous interval is returned
// alongside the error so the caller can show a notice and carry on.
func (a *Advisor) Adjust(ctx context.Context, accuracy float64, meanResponse time.Duration) (time.Duration, error) {
	resp, err := a.adviser.Advise(ctx, Request{
		PreviousAccuracy:     accuracy,
		PreviousResponseTime: float64(meanResponse) / float64(time.Millisecond),
	})
	if err != nil {
		return a.Current(), err
	}

	a.mu.Lock()
	a.current = resp.Interval()
	a.mu.Unlock()
	return resp.Interval(), nil
}

// Accuracy is the fraction of target positions matched by typed. An empty
// target scores 0.
func Accuracy(target, typed string) float64 {
	want := []rune(target)
	if len(want) == 0 {
		return 0
	}
	got := []rune(typed)

	correct := 0
	for i, r := range want {
		if i < len(got) && got[i] == r {
			correct++
		}
	}
	return float64(correct) / float64(len(want))
}

// MeanResponse averages response times. No samples yields 0.
func MeanResponse(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range times {
		sum += t
	}
	return sum / time.Duration(len(times))
}
