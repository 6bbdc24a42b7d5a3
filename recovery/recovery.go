package recovery

import "fmt"

type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s obj %d %d @%d", l.Component, l.ObjectNum, l.ObjectGen, l.ByteOffset)
	}
	return fmt.Sprintf("%s @%d", l.Component, l.ByteOffset)
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
	return fmt.Sprintf("action(%d)", int(a))
}

type Context interface{ Done() <-chan struct{} }

// Tolerant reports whether action lets the caller carry on past the error.
func Tolerant(s Strategy, ctx Context, err error, loc Location) bool {
	if s == nil {
		return false
	}
	switch s.OnError(ctx, err, loc) {
	case ActionSkip, ActionFix, ActionWarn:
		return true
	}
	return false
}
