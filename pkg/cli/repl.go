// Package cli implements the interactive diagnosis loop of the
// `cli [--hyb|--rar]` command: a terminal REPL driving whichever
// dialogue engine the caller selected (GAR by default).
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dbincident/diagd/pkg/dialogue"
)

// REPL reads user problem descriptions and feedback from in, prints
// responses to out, and drives a single dialogue session for its
// lifetime.
type REPL struct {
	engine dialogue.RARDialogue
	in     io.Reader
	out    io.Writer
}

// New constructs a REPL bound to the given dialogue engine.
func New(engine dialogue.RARDialogue, in io.Reader, out io.Writer) *REPL {
	return &REPL{engine: engine, in: in, out: out}
}

// Run drives the loop until EOF or the user types /exit. ctx is passed
// unchanged to every turn.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "Describe the problem you're seeing. Type /exit to quit, /help for commands.")
	scanner := bufio.NewScanner(r.in)
	var sessionID string

	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit":
			fmt.Fprintln(r.out, "goodbye")
			return nil
		case "/help":
			fmt.Fprintln(r.out, "commands: /exit, /help, /reset")
			continue
		case "/reset":
			sessionID = ""
			fmt.Fprintln(r.out, "session reset")
			continue
		}

		resp, err := r.turn(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}
		sessionID = resp.SessionID
		if resp.Kind == dialogue.KindError {
			fmt.Fprintf(r.out, "error: %s\n", resp.Error)
			continue
		}
		fmt.Fprintln(r.out, resp.Message)
	}
}

func (r *REPL) turn(ctx context.Context, sessionID, line string) (*dialogue.Response, error) {
	if sessionID == "" {
		return r.engine.StartConversation(ctx, line)
	}
	return r.engine.ContinueConversation(ctx, sessionID, line)
}
