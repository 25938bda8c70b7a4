package loadbalancer

import "fmt"

const (
	RoundRobinStrategy       = "round_robin"
	RandomStrategy           = "random"
	LeastConnectionsStrategy = "least_connections"
)

// Strategy picks one upstream out of the currently healthy ones.
type Strategy interface {
	// Returns "" when targets is empty
	Next(targets []string) string

	Name() string
}

// ConnectionTracker is implemented by strategies that need to know how many
// requests are in flight per upstream.
type ConnectionTracker interface {
	Acquire(target string)
	Release(target string)
}

func NewStrategy(name string) (Strategy, error) {
	switch name {
	case RoundRobinStrategy, "round-robin", "":
		return NewRoundRobin(), nil
	case RandomStrategy:
		return NewRandom(), nil
	case LeastConnectionsStrategy, "least-connections":
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", name)
	}
}
