// Package common contains the error taxonomy and small constants shared by
// every gokdbx layer. Callers should use errors.Is to match error kinds.
package common

// Generator is written to Meta/Generator of every document saved by gokdbx.
const Generator = "GoKdbx"
