package domain

// State is the lifecycle state of an application container rule.
type State string

const (
	StateCreated      State = "CREATED"
	StateNetworkReady State = "NETWORK_READY"
	StateConfigured   State = "CONFIGURED"
	StateStarting     State = "STARTING"
	StateReady        State = "READY"
	StateStopped      State = "STOPPED"
	StateFailed       State = "FAILED"
)

var transitions = map[State][]State{
	StateCreated:      {StateNetworkReady, StateFailed, StateStopped},
	StateNetworkReady: {StateConfigured, StateFailed, StateStopped},
	StateConfigured:   {StateStarting, StateFailed, StateStopped},
	StateStarting:     {StateReady, StateFailed, StateStopped},
	StateReady:        {StateStopped},
	StateFailed:       {StateStopped},
	StateStopped:      {StateStopped},
}

// CanTransition reports whether the rule may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
