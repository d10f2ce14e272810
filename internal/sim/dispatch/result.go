package dispatch

import "fmt"

type Kind uint8

const (
	KindSuccess Kind = iota
	KindSkipped
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindSkipped:
		return "skipped"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Result is the outcome of one dispatch. Reason is empty on success.
type Result struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

func Success() Result              { return Result{Kind: KindSuccess} }
func Skipped(reason string) Result { return Result{Kind: KindSkipped, Reason: reason} }
func Failed(reason string) Result  { return Result{Kind: KindFailed, Reason: reason} }

func (r Result) IsSuccess() bool { return r.Kind == KindSuccess }
func (r Result) IsSkipped() bool { return r.Kind == KindSkipped }
func (r Result) IsFailed() bool  { return r.Kind == KindFailed }

func (r Result) String() string {
	if r.Reason == "" {
		return r.Kind.String()
	}
	return r.Kind.String() + ": " + r.Reason
}
