// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package console implements the hub's structured command console: a
// recursive interpreter over a fixed command tree with typed argument
// casting.  Casting and business failures become formatted strings, never
// errors escaping the dispatcher, since multiple remote consoles share it.
package console

import (
	"fmt"
	"sort"
	"strings"
)

// CommandError is a user-facing failure raised by a command handler or group
// argument resolver; the dispatcher renders it prefixed with the command name.
type CommandError struct {
	msg string
}

func (e *CommandError) Error() string { return e.msg }

// Errorf builds a CommandError.
func Errorf(format string, args ...any) error {
	return &CommandError{msg: fmt.Sprintf(format, args...)}
}

// RunFunc executes a leaf command.  groups holds the resolved group-argument
// objects outermost first; args holds the cast leaf arguments in declared
// order.
type RunFunc func(groups []any, args []any) (string, error)

// Arg is one typed leaf or group argument.
type Arg struct {
	Name string
	Type ArgType
	Help string
}

// Leaf is a command with a callback and a fixed ordered argument list.  At
// most the last argument may carry a default.
type Leaf struct {
	Help       string
	Args       []Arg
	Default    string
	HasDefault bool
	Run        RunFunc

	// ClientSide commands are handled by the console client; reaching the
	// hub indicates a client bug.
	ClientSide bool

	// Raw, when set, bypasses argument validation and receives the
	// remaining tokens untouched.  Used by help.
	Raw func(args []string) string
}

// GroupArg is a group's own argument, resolved to a domain object before
// descending into sub-commands.
type GroupArg struct {
	Arg
	Resolve func(v any) (any, error)
}

// Group is a command whose argument is a sub-command, optionally preceded by
// one group argument.
type Group struct {
	Help string
	Arg  *GroupArg
	Sub  map[string]*Node
}

// Node is one command-tree entry: exactly one of Leaf or Group is set.
type Node struct {
	Leaf  *Leaf
	Group *Group
}

// Tree is the top-level command map.
type Tree map[string]*Node

// validate asserts tree construction invariants.  A malformed skeleton is a
// hub bug.
func (t Tree) validate() {
	for name, node := range t {
		node.validate(name)
	}
}

func (n *Node) validate(name string) {
	if (n.Leaf == nil) == (n.Group == nil) {
		panic(fmt.Sprintf("console: command %q must be exactly one of leaf or group", name))
	}
	if n.Leaf != nil {
		if n.Leaf.HasDefault && len(n.Leaf.Args) == 0 {
			panic(fmt.Sprintf("console: command %q declares a default without arguments", name))
		}
		return
	}
	for sub, child := range n.Group.Sub {
		child.validate(name + " " + sub)
	}
}

func (n *Node) process(cmdName string, groups []any, args []string) string {
	if n.Leaf != nil {
		return n.Leaf.process(cmdName, groups, args)
	}
	return n.Group.process(cmdName, groups, args)
}

func (l *Leaf) process(cmdName string, groups []any, args []string) string {
	if l.ClientSide {
		return fmt.Sprintf("The command '%s' is processed on the client side, but was passed to the "+
			"hub for processing.  This may be a bug.", cmdName)
	}

	if l.Raw != nil {
		return l.Raw(args)
	}

	given := len(args)
	if given < len(l.Args) && l.HasDefault {
		args = append(args, l.Default)
	}

	if len(args) != len(l.Args) {
		var req string
		switch {
		case len(l.Args) == 0:
			req = "does not take any arguments"
		case len(l.Args) == 1:
			req = "requires 1 argument"
		case l.HasDefault:
			req = fmt.Sprintf("requires %d or %d arguments (last argument has a default value and is optional)",
				len(l.Args)-1, len(l.Args))
		default:
			req = fmt.Sprintf("requires %d arguments", len(l.Args))
		}

		giv := fmt.Sprintf("%d were", given)
		if given == 1 {
			giv = "1 was"
		}
		return fmt.Sprintf("%s: command %s, but %s given", cmdName, req, giv)
	}

	cast := make([]any, 0, len(args))
	for i, raw := range args {
		v, err := l.Args[i].Type.cast(raw)
		if err != nil {
			return fmt.Sprintf("%s: argument <%s> %s: %s", cmdName, l.Args[i].Name, err, raw)
		}
		cast = append(cast, v)
	}

	out, err := l.Run(groups, cast)
	if err != nil {
		return fmt.Sprintf("%s: %s", cmdName, err)
	}
	return out
}

func (g *Group) process(cmdName string, groups []any, args []string) string {
	if len(args) == 0 {
		if g.Arg == nil {
			return fmt.Sprintf("%s: requires 1 argument (<command>), but 0 were given\ncommand choices: %s",
				cmdName, g.choices())
		}
		return fmt.Sprintf("%s: requires 2 arguments (<%s> and <command>), but 0 were given\ncommand choices: %s",
			cmdName, g.Arg.Name, g.choices())
	}

	if g.Arg != nil {
		if len(args) == 1 {
			if _, isSub := g.Sub[args[0]]; isSub {
				return fmt.Sprintf("%s: missing argument <%s> before command '%s'", cmdName, g.Arg.Name, args[0])
			}
			return fmt.Sprintf("%s: requires 2 arguments (<%s> and <command>), but 1 was given\ncommand choices: %s",
				cmdName, g.Arg.Name, g.choices())
		}

		v, err := g.Arg.Type.cast(args[0])
		if err != nil {
			return fmt.Sprintf("%s: argument <%s> %s: %s", cmdName, g.Arg.Name, err, args[0])
		}

		obj, err := g.Arg.Resolve(v)
		if err != nil {
			return fmt.Sprintf("%s: %s", cmdName, err)
		}

		groups = append(groups, obj)
		args = args[1:]
	}

	sub := args[0]
	args = args[1:]

	node, ok := g.Sub[sub]
	if !ok {
		return fmt.Sprintf("%s: command '%s' not found (choices: %s)", cmdName, sub, g.choices())
	}

	return node.process(cmdName+" "+sub, groups, args)
}

func (g *Group) choices() string {
	names := make([]string, 0, len(g.Sub))
	for name := range g.Sub {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
