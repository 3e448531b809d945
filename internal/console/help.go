package console

import (
	"fmt"
	"sort"
	"strings"
)

// renderHelp walks the command tree along the given chain and renders command
// help: for a leaf, its help text plus per-argument descriptions; for a
// group, its argument info and sub-command choices.
func renderHelp(tree Tree, chain []string) string {
	if len(chain) == 0 {
		chain = []string{"help"}
	}

	var (
		cmdChain   []string
		cmdArgDesc []string
		grpArgDesc []string
		helpText   string
		group      *Group
	)

	current := tree
	for _, token := range chain {
		cmdChain = append(cmdChain, token)

		node, ok := current[token]
		if !ok {
			helpText = fmt.Sprintf("Command '%s' cannot be found.", token)
			break
		}

		if node.Leaf != nil {
			group = nil
			helpText = node.Leaf.Help
			for _, arg := range node.Leaf.Args {
				cmdArgDesc = append(cmdArgDesc, fmt.Sprintf("- %s (%s): %s.", arg.Name, arg.Type, arg.Help))
				cmdChain = append(cmdChain, fmt.Sprintf("<%s>", arg.Name))
			}
			if len(node.Leaf.Args) > 0 && node.Leaf.HasDefault {
				cmdArgDesc = append(cmdArgDesc, fmt.Sprintf("  - default value: '%s'", node.Leaf.Default))
			}
			break
		}

		group = node.Group
		helpText = group.Help // group help stands if no sub-command follows
		if group.Arg != nil {
			grpArgDesc = append(grpArgDesc,
				fmt.Sprintf("- %s (%s): %s.", group.Arg.Name, group.Arg.Type, group.Arg.Help))
			cmdChain = append(cmdChain, fmt.Sprintf("<%s>", group.Arg.Name))
		}
		current = group.Sub
	}

	grpArgStr := ""
	if len(grpArgDesc) > 0 {
		grpArgStr = fmt.Sprintf("Prerequisite Arguments:\n%s\n\n", strings.Join(grpArgDesc, "\n"))
	}

	cmdArgStr := ""
	switch {
	case len(cmdArgDesc) > 0:
		cmdArgStr = fmt.Sprintf("\n\nCommand Arguments:\n%s", strings.Join(cmdArgDesc, "\n"))
	case group != nil:
		// a group was given without a sub-command: list the choices
		cmdChain = append(cmdChain, "<command>")
		lines := []string{"\n\nAvailable Commands:"}
		for _, name := range sortedSubNames(group) {
			lines = append(lines, fmt.Sprintf("- %s: %s", name, subHelp(group.Sub[name])))
		}
		cmdArgStr = strings.Join(lines, "\n")
	}

	return fmt.Sprintf("%s\n\n%s%s%s", strings.Join(cmdChain, " "), grpArgStr, helpText, cmdArgStr)
}

func sortedSubNames(g *Group) []string {
	names := make([]string, 0, len(g.Sub))
	for name := range g.Sub {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func subHelp(n *Node) string {
	if n.Leaf != nil {
		return n.Leaf.Help
	}
	return n.Group.Help
}
