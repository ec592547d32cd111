// Package cliprompt implements ports.UserPrompt by asking questions on
// os.Stdin/os.Stdout, the CLI's production stand-in for the fixed-answer
// fakes the engine's own tests inject.
package cliprompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/ports"
)

type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

func (p *Prompt) ChooseDuplicate(ctx context.Context, req ports.DuplicateChoiceRequest) (ports.DuplicateChoice, error) {
	fmt.Fprintf(p.out, "\n%q matches an existing note at %s (match type: %s).\n", req.Title, req.ExistingPath, req.MatchType)
	fmt.Fprintf(p.out, "Incoming highlights: %d. Choose [s]kip, [k]eep both, [r]eplace, [m]erge: ", req.IncomingAnnotationsCount)

	answer, err := p.readLine(ctx)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "s", "skip":
		return ports.ChoiceSkip, nil
	case "k", "keep_both", "keep-both":
		return ports.ChoiceKeepBoth, nil
	case "r", "replace":
		return ports.ChoiceReplace, nil
	case "m", "merge":
		return ports.ChoiceMergeUseSnapshot, nil
	default:
		return ports.ChoiceSkip, nil
	}
}

func (p *Prompt) ConfirmStaleLocation(ctx context.Context, match kohl.Candidate) (bool, error) {
	fmt.Fprintf(p.out, "\nMatching note %s now lives outside the managed folder. Merge into it anyway? [y/N]: ", match.Path)

	answer, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompt) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && r.err != io.EOF {
			return "", r.err
		}
		return r.line, nil
	case <-ctx.Done():
		return "", ports.Cancelled
	}
}
