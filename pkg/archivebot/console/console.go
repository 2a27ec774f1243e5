// Package console implements the operator confirmation step: a huh form on
// a terminal, a plain line prompt otherwise (pipes, service managers).
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Confirmer asks a yes/no question and blocks until it is answered.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// New picks a FormPrompter when in is a terminal and a LinePrompter
// otherwise.
func New(in *os.File, out io.Writer) Confirmer {
	if term.IsTerminal(int(in.Fd())) {
		return NewFormPrompter(in, out)
	}
	return NewLinePrompter(in, out)
}

var (
	yesAnswers = map[string]bool{"y": true, "yes": true, "д": true, "да": true}
	noAnswers  = map[string]bool{"n": true, "no": true, "н": true, "нет": true}
)

// ParseAnswer maps a typed answer to yes/no. ok is false for anything else.
func ParseAnswer(s string) (answer, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case yesAnswers[s]:
		return true, true
	case noAnswers[s]:
		return false, true
	}
	return false, false
}

type line struct {
	text string
	err  error
}

// LinePrompter reads answers line by line and re-prompts on anything it
// does not recognize.
type LinePrompter struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan line
}

// NewLinePrompter creates a prompter over in and out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: in, out: out}
}

// read feeds lines from a single goroutine so a cancelled prompt never
// leaves two readers on the same input.
func (p *LinePrompter) read() {
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- line{text: scanner.Text()}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	p.lines <- line{err: err}
	close(p.lines)
}

// Confirm prints question and waits for y/yes or n/no.
func (p *LinePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	p.once.Do(func() {
		p.lines = make(chan line)
		go p.read()
	})

	fmt.Fprintf(p.out, "%s ", question)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return false, ctx.Err()
		case l, ok := <-p.lines:
			if !ok {
				return false, io.EOF
			}
			if l.err != nil {
				return false, fmt.Errorf("reading answer: %w", l.err)
			}
			if answer, valid := ParseAnswer(l.text); valid {
				return answer, nil
			}
			fmt.Fprintf(p.out, "Please answer y or n. %s ", question)
		}
	}
}

// FormPrompter shows a huh confirm field.
type FormPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewFormPrompter creates a prompter rendering on out.
func NewFormPrompter(in io.Reader, out io.Writer) *FormPrompter {
	return &FormPrompter{in: in, out: out}
}

// Confirm runs the form. Aborting it (Ctrl+C, Esc) counts as "no".
func (p *FormPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	var answer bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&answer),
		),
	).WithInput(p.in).WithOutput(p.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("confirmation form: %w", err)
	}
	return answer, nil
}
