package element

import "errors"

// Warning codes recorded in a diag.Collector. They are never returned from a
// calculator run.
var (
	ErrUnimplementedElement = errors.New("element: unimplemented element")
	ErrUnimplementedCommand = errors.New("element: unimplemented command")
)

const (
	CodeUnimplementedElement = "UnimplementedElementError"
	CodeUnimplementedCommand = "UnimplementedCommandError"
)
