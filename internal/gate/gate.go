// Package gate asks for confirmation before irreversible phases.
package gate

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ConfirmationGate decides whether a phase described by desc touching count
// documents may run
type ConfirmationGate func(desc string, count int) bool

// AutoApprove confirms every phase
func AutoApprove(string, int) bool { return true }

// Deny declines every phase
func Deny(string, int) bool { return false }

// Interactive prompts on out and reads the answer from in. Only an exact
// "yes" confirms; EOF declines.
func Interactive(in io.Reader, out io.Writer) ConfirmationGate {
	reader := bufio.NewReader(in)
	var mu sync.Mutex
	return func(desc string, count int) bool {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(out, "\n%s (%d documents)\nType \"yes\" to continue: ", desc, count)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return false
		}
		return strings.TrimSpace(line) == "yes"
	}
}

// Recording wraps g and remembers every prompt it answered
type Recording struct {
	Gate    ConfirmationGate
	mu      sync.Mutex
	prompts []string
}

// Confirm implements ConfirmationGate
func (r *Recording) Confirm(desc string, count int) bool {
	r.mu.Lock()
	r.prompts = append(r.prompts, fmt.Sprintf("%s (%d)", desc, count))
	r.mu.Unlock()
	return r.Gate(desc, count)
}

// Prompts returns the prompts seen so far
func (r *Recording) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}
