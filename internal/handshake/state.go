package handshake

import "fmt"

// State is a position in the three-legged handshake.
type State int

const (
	Init State = iota
	RequestTokenPending
	AwaitingAuthorization
	AccessTokenPending
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case RequestTokenPending:
		return "request_token_pending"
	case AwaitingAuthorization:
		return "awaiting_authorization"
	case AccessTokenPending:
		return "access_token_pending"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}

var transitions = map[State][]State{
	Init:                  {RequestTokenPending, AccessTokenPending},
	RequestTokenPending:   {AwaitingAuthorization, Failed},
	AwaitingAuthorization: {AccessTokenPending, Failed},
	AccessTokenPending:    {Authenticated, Failed},
}

// machine tracks one handshake leg. The two legs run in separate HTTP
// requests, so the callback leg starts again from Init.
type machine struct {
	state State
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
}
