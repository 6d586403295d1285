package router

import "fmt"

// ChainBuildError reports that the chain for one track could not be built.
// Only that track is affected.
type ChainBuildError struct {
	Pad   string
	Stage string
	Err   error
}

func (e *ChainBuildError) Error() string {
	return fmt.Sprintf("chain for %s failed at %s: %v", e.Pad, e.Stage, e.Err)
}

func (e *ChainBuildError) Unwrap() error { return e.Err }
