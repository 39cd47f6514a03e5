package identity

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when a ticket must be typed but stdin is not a
// terminal.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// PromptTicket asks for the exam ticket. The input is hidden when in is a
// terminal, since tickets are single-use credentials; piped input is read
// as a plain line.
func PromptTicket(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter Ticket: ")

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out) // Newline after hidden input
		if err != nil {
			return "", fmt.Errorf("read ticket: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read ticket: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Interactive reports whether in is a terminal a ticket can be typed on.
func Interactive(in *os.File) bool {
	return term.IsTerminal(int(in.Fd()))
}
