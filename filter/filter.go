package filter

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/geonote-chat/globals"
)

// Compile compiles a relay filter. An empty source yields a nil program which lets everything pass.
func Compile(source string) (*vm.Program, error) {
	if source == "" {
		return nil, nil
	}
	prog, err := expr.Compile(source, expr.Env(Env{}))
	if err != nil {
		return nil, fmt.Errorf("could not compile filter %q: %w", source, err)
	}
	return prog, nil
}

// Run evaluates prog against env. Errors and non-boolean results reject.
func Run(prog *vm.Program, env Env) bool {
	if prog == nil {
		return true
	}
	res, err := expr.Run(prog, env)
	if err != nil {
		globals.AppLogger.Error("could not run filter", "error", err)
		return false
	}
	pass, ok := res.(bool)
	if !ok {
		globals.AppLogger.Warn("filter result is not a boolean", "result", res)
		return false
	}
	return pass
}
