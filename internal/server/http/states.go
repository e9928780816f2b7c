package http

type sessionState uint8

const (
	eAwaitRequest sessionState = iota + 1
	eParsing
	eDispatching
	eResponding
	eClosed
)

func (s sessionState) String() string {
	switch s {
	case eAwaitRequest:
		return "await-request"
	case eParsing:
		return "parsing"
	case eDispatching:
		return "dispatching"
	case eResponding:
		return "responding"
	case eClosed:
		return "closed"
	default:
		return "unknown"
	}
}
