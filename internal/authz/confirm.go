package authz

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/btsentry/btsentry/internal/core"
)

// TerminalConfirmer asks for a yes/no answer on the terminal. The read
// happens in a goroutine so a cancelled context unblocks the caller
// even while the operator is away from the keyboard.
type TerminalConfirmer struct {
	in  io.Reader
	out io.Writer
}

var _ core.Confirmer = (*TerminalConfirmer)(nil)

func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{in: in, out: out}
}

func (c *TerminalConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(c.out, "\n⚠ %s\n", prompt)
	fmt.Fprint(c.out, "Type 'yes' to proceed: ")

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(c.in).ReadString('\n')
		ch <- answer{text: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("read confirmation: %w", a.err)
		}
		return strings.EqualFold(strings.TrimSpace(a.text), "yes"), nil
	}
}

// AutoConfirmer answers every prompt without asking, for --yes runs.
type AutoConfirmer struct {
	Approve bool
}

var _ core.Confirmer = (*AutoConfirmer)(nil)

func (c *AutoConfirmer) Confirm(_ context.Context, _ string) (bool, error) {
	return c.Approve, nil
}
