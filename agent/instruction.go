package agent

import "github.com/hupe1980/agentstream/core"

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from session state, environment, etc.
type Provider interface {
	Instruction(*core.InvocationContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.InvocationContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(invCtx *core.InvocationContext) (string, error) { return f(invCtx) }

// Instruction represents either a static instruction string or a dynamic provider.
// This mirrors a union of string | provider in a Go-idiomatic way. The zero
// value resolves to an empty string.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.InvocationContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(invCtx *core.InvocationContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(invCtx)
	}
	return i.text, nil
}
