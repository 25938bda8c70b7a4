package loadbalancer

import "sync"

// LeastConnections sends each request to the upstream with the fewest
// requests in flight. Ties go to the earliest target in the list.
type LeastConnections struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{inFlight: make(map[string]int)}
}

func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := targets[0]
	fewest := l.inFlight[selected]
	for _, target := range targets[1:] {
		if n := l.inFlight[target]; n < fewest {
			selected, fewest = target, n
		}
	}
	return selected
}

func (l *LeastConnections) Acquire(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight[target]++
}

func (l *LeastConnections) Release(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight[target] <= 1 {
		delete(l.inFlight, target)
		return
	}
	l.inFlight[target]--
}

// InFlight returns the number of requests currently tracked for target.
func (l *LeastConnections) InFlight(target string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[target]
}

func (l *LeastConnections) Name() string {
	return LeastConnectionsStrategy
}
