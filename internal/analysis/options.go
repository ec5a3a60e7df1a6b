package analysis

import "go.starlark.net/syntax"

// FileOptions are the dialect options for cell source. Cells behave like
// notebook code: globals may be rebound, loops and conditionals may appear
// at the top level, and load statements bind module globals so that loaded
// names flow to later cells like any other binding.
var FileOptions = &syntax.FileOptions{
	Set:               true,
	While:             true,
	TopLevelControl:   true,
	GlobalReassign:    true,
	LoadBindsGlobally: true,
	Recursion:         true,
}

// Parse parses cell source with FileOptions.
// Parse failures are returned as *SyntaxError.
func Parse(filename, src string) (*syntax.File, error) {
	f, err := FileOptions.Parse(filename, src, 0)
	if err != nil {
		return nil, newSyntaxError(filename, err)
	}
	return f, nil
}
