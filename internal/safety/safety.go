// Package safety declares the content-safety collaborator. No checker is
// implemented yet; Nop lets every text through.
package safety

import "context"

type Verdict struct {
	Allowed bool
	Reason  string
}

type Checker interface {
	Check(ctx context.Context, text string) (Verdict, error)
}

// Nop allows everything.
type Nop struct{}

func (Nop) Check(context.Context, string) (Verdict, error) {
	return Verdict{Allowed: true}, nil
}
