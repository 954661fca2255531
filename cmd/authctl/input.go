package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// prompter asks for missing values on stderr. Secrets are read without echo
// when stdin is a terminal, otherwise as plain lines so input can be piped.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.ErrOrStderr(),
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd, p.tty = int(f.Fd()), true
	}
	return p
}

func (p *prompter) line(label string) (string, error) {
	if _, err := fmt.Fprintf(p.out, "%s: ", label); err != nil {
		return "", err
	}
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func (p *prompter) secret(label string) (string, error) {
	if !p.tty {
		return p.line(label)
	}
	if _, err := fmt.Fprintf(p.out, "%s: ", label); err != nil {
		return "", err
	}
	b, err := readPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return string(b), nil
}

// orPrompt returns v, or asks for it when empty.
func (p *prompter) orPrompt(v, label string) (string, error) {
	if v != "" {
		return v, nil
	}
	return p.line(label)
}
