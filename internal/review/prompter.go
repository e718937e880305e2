package review

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrAborted is returned by a Prompter when the user abandons a prompt.
var ErrAborted = errors.New("review aborted by user")

// Option is one selectable answer. Key is what the user types in line mode.
type Option struct {
	Key   string
	Label string
}

// Prompter is the only place a review session waits for the user.
// Implementations return io.EOF or ErrAborted when no more input will come.
type Prompter interface {
	Inform(text string) error
	Confirm(ctx context.Context, title string) (bool, error)
	Choose(ctx context.Context, title string, options []Option) (string, error)
	Input(ctx context.Context, title string) (string, error)
}

// LinePrompter reads answers line by line. It is used when standard input is
// not a terminal and in tests.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter creates a LinePrompter.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// Inform prints text followed by a newline.
func (p *LinePrompter) Inform(text string) error {
	_, err := fmt.Fprintln(p.out, text)
	return err
}

// Confirm accepts y, yes, n, no, and an empty line as yes.
func (p *LinePrompter) Confirm(ctx context.Context, title string) (bool, error) {
	for {
		fmt.Fprintf(p.out, "%s [Y/n]: ", title)
		line, err := p.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(line) {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintf(p.out, "please answer y or n\n")
	}
}

// Choose lists the options and re-prompts until a known key is entered.
func (p *LinePrompter) Choose(ctx context.Context, title string, options []Option) (string, error) {
	fmt.Fprintln(p.out, title)
	for _, o := range options {
		fmt.Fprintf(p.out, "  %s) %s\n", o.Key, o.Label)
	}
	for {
		fmt.Fprint(p.out, "> ")
		line, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}
		for _, o := range options {
			if strings.EqualFold(line, o.Key) {
				return o.Key, nil
			}
		}
		fmt.Fprintf(p.out, "unknown choice %q\n", line)
	}
}

// Input reads one free-text line.
func (p *LinePrompter) Input(ctx context.Context, title string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", title)
	return p.readLine(ctx)
}

func (p *LinePrompter) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	if err != nil {
		// A final line without a newline still counts.
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// FormPrompter renders prompts as terminal forms.
type FormPrompter struct {
	out        io.Writer
	accessible bool
}

// NewFormPrompter creates a FormPrompter. Accessible mode replaces the
// full-screen widgets with plain prompts, which screen readers handle better.
func NewFormPrompter(out io.Writer, accessible bool) *FormPrompter {
	return &FormPrompter{out: out, accessible: accessible}
}

// Inform prints text followed by a newline.
func (p *FormPrompter) Inform(text string) error {
	_, err := fmt.Fprintln(p.out, text)
	return err
}

// Confirm asks a yes/no question.
func (p *FormPrompter) Confirm(ctx context.Context, title string) (bool, error) {
	v := true
	err := p.run(ctx, huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&v))
	return v, err
}

// Choose asks for one of the options.
func (p *FormPrompter) Choose(ctx context.Context, title string, options []Option) (string, error) {
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		opts = append(opts, huh.NewOption(o.Label, o.Key))
	}
	var v string
	err := p.run(ctx, huh.NewSelect[string]().Title(title).Options(opts...).Value(&v))
	return v, err
}

// Input asks for free text.
func (p *FormPrompter) Input(ctx context.Context, title string) (string, error) {
	var v string
	err := p.run(ctx, huh.NewInput().Title(title).Value(&v))
	return strings.TrimSpace(v), err
}

func (p *FormPrompter) run(ctx context.Context, field huh.Field) error {
	form := huh.NewForm(huh.NewGroup(field)).WithAccessible(p.accessible)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	return nil
}
