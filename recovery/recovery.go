package recovery

// Strategy decides how a layer reacts to a malformed input it could work around.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	}
	return "unknown"
}

type Context interface{ Done() <-chan struct{} }

// Decide asks s about err, treating a nil strategy as lenient.
func Decide(s Strategy, ctx Context, err error, loc Location) Action {
	if s == nil {
		return ActionWarn
	}
	return s.OnError(ctx, err, loc)
}
