package task

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches {in:name}, {ins:name}, {out:name} and {p:name}
// in command templates. {ins:name} expands a list binding to its paths
// joined by spaces.
var placeholderRe = regexp.MustCompile(`\{(ins|in|out|p):([A-Za-z0-9_]+)\}`)

// RenderCommand substitutes an invocation's bindings into the node's
// script template. Every placeholder must resolve; failing loudly here
// beats handing a malformed command line to the shell.
func RenderCommand(inv *Invocation) (string, error) {
	var missing []string
	cmd := placeholderRe.ReplaceAllStringFunc(inv.Node.Script, func(m string) string {
		groups := placeholderRe.FindStringSubmatch(m)
		kind, name := groups[1], groups[2]
		var val string
		var ok bool
		switch kind {
		case "in":
			val, ok = inv.Inputs[name]
		case "ins":
			var list []string
			list, ok = inv.InputLists[name]
			val = strings.Join(list, " ")
		case "out":
			val, ok = inv.Outputs[name]
		case "p":
			val, ok = inv.Params[name]
		}
		if !ok {
			missing = append(missing, m)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("task: node %s: unresolved placeholders %v", inv.Node.Name, missing)
	}
	return cmd, nil
}
