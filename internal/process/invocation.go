package process

import (
	"strconv"
	"strings"
)

// Invocation is a command name, its ordered arguments and extra environment
// entries for the child. It is immutable: the constructor and every
// accessor copy the underlying slices.
type Invocation struct {
	name string
	args []string
	env  []string
}

// NewInvocation builds an Invocation. Success means exit code zero.
func NewInvocation(name string, args ...string) Invocation {
	return Invocation{
		name: name,
		args: append([]string(nil), args...),
	}
}

// WithEnv returns a copy of i that adds KEY=VALUE entries to the child's
// environment. Values never appear in String.
func (i Invocation) WithEnv(entries ...string) Invocation {
	out := Invocation{
		name: i.name,
		args: i.args,
		env:  make([]string, 0, len(i.env)+len(entries)),
	}
	out.env = append(out.env, i.env...)
	out.env = append(out.env, entries...)
	return out
}

// Name returns the executable.
func (i Invocation) Name() string {
	return i.name
}

// Args returns a copy of the arguments.
func (i Invocation) Args() []string {
	return append([]string(nil), i.args...)
}

// Env returns a copy of the extra environment entries.
func (i Invocation) Env() []string {
	return append([]string(nil), i.env...)
}

// EnvKeys returns the names of the extra environment entries.
func (i Invocation) EnvKeys() []string {
	keys := make([]string, 0, len(i.env))
	for _, entry := range i.env {
		key, _, _ := strings.Cut(entry, "=")
		keys = append(keys, key)
	}
	return keys
}

// Argv returns the name followed by the arguments.
func (i Invocation) Argv() []string {
	return append([]string{i.name}, i.args...)
}

// String renders the command line for diagnostics, quoting arguments that
// would otherwise be ambiguous.
func (i Invocation) String() string {
	argv := i.Argv()
	parts := make([]string, len(argv))
	for idx, arg := range argv {
		parts[idx] = quoteArg(arg)
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$") {
		return strconv.Quote(arg)
	}
	return arg
}
