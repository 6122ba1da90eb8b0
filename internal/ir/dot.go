package ir

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"github.com/roach88/opflow/internal/expr"
)

// DotOptions controls label shaping in DOT.
type DotOptions struct {
	// MaxLabelLength truncates instruction text to this many runes.
	// Zero disables truncation.
	MaxLabelLength int
	// WrapWidth word-wraps each label line at this width. Zero disables
	// wrapping.
	WrapWidth uint
}

// DefaultDotOptions returns the label shaping used for debug dumps.
func DefaultDotOptions() DotOptions {
	return DotOptions{MaxLabelLength: 30, WrapWidth: 50}
}

// DOT renders the program's dataflow graph in Graphviz syntax.
//
// Each instruction is a box labelled with its priority and text. Edges run
// from the producer of a name to each consumer and are labelled with the
// name. Inputs originate at the synthetic "initial" node and the result
// expressions feed the synthetic "result" node.
func DOT(p *Program, opts DotOptions) string {
	lines := []string{
		`initial [label="initial"];`,
		`result [label="result"];`,
	}

	origins := make(map[string]string)
	nodes := make([]string, len(p.Instructions))
	for i, in := range p.Instructions {
		nodes[i] = fmt.Sprintf("node%d", i)
		lines = append(lines, fmt.Sprintf(`%s [ label="p%d: %s" shape=box ];`,
			nodes[i], in.Priority, dotLabel(in.String(), opts)))
		for _, n := range in.Names {
			origins[n] = nodes[i]
		}
	}

	origin := func(name string) string {
		if o, ok := origins[name]; ok {
			return o
		}
		return "initial"
	}

	for i, in := range p.Instructions {
		for _, dep := range in.Dependencies() {
			lines = append(lines, fmt.Sprintf(`%s -> %s [label="%s"];`, origin(dep), nodes[i], dotEscape(dep)))
		}
	}
	for _, e := range p.Result.Exprs {
		from := "initial"
		if v, ok := e.(*expr.Variable); ok {
			from = origin(v.Name)
		}
		lines = append(lines, fmt.Sprintf(`%s -> result [label="%s"];`, from, dotEscape(e.String())))
	}

	return "digraph dataflow {\n" + strings.Join(lines, "\n") + "\n}\n"
}

// dotLabel truncates, wraps and left-justifies text for a DOT label. A
// truncated label ends in "...".
func dotLabel(text string, opts DotOptions) string {
	if opts.MaxLabelLength > 0 {
		if r := []rune(text); len(r) > opts.MaxLabelLength {
			text = string(r[:opts.MaxLabelLength]) + "..."
		}
	}
	if opts.WrapWidth > 0 {
		src := strings.Split(text, "\n")
		for i, line := range src {
			src[i] = strings.ReplaceAll(wordwrap.WrapString(line, opts.WrapWidth), "\n", "\n      ")
		}
		text = strings.Join(src, "\n")
	}
	return strings.ReplaceAll(dotEscape(text), "\n", `\l`) + `\l`
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
