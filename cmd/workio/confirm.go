package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/desertwitch/workio/internal/protocol"
)

// terminalConfirmer asks questions on a line based terminal. Without an
// interactive input every question is canceled.
type terminalConfirmer struct {
	sync.Mutex

	in          io.Reader
	out         io.Writer
	interactive bool

	once  sync.Once
	lines chan string
}

func newTerminalConfirmer(in io.Reader, out io.Writer, interactive bool) *terminalConfirmer {
	return &terminalConfirmer{
		in:          in,
		out:         out,
		interactive: interactive,
		lines:       make(chan string),
	}
}

// readLines feeds the input lines to the confirmer. A line typed while no
// question is asked answers the next one.
func (c *terminalConfirmer) readLines() {
	defer close(c.lines)

	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		c.lines <- strings.ToLower(strings.TrimSpace(sc.Text()))
	}
}

func (c *terminalConfirmer) Confirm(ctx context.Context, req protocol.MessageBoxRequest) int {
	if !c.interactive {
		return protocol.AnswerCancel
	}

	c.Lock()
	defer c.Unlock()

	primary, secondary := req.Primary, req.Secondary
	if primary == "" {
		primary = "yes"
	}
	if secondary == "" {
		secondary = "no"
	}

	if req.Title != "" {
		fmt.Fprintf(c.out, "%s\n", req.Title)
	}
	fmt.Fprintf(c.out, "%s\n", req.Text)
	if req.Details != "" {
		fmt.Fprintf(c.out, "%s\n", req.Details)
	}

	if req.Kind == protocol.BoxInformation || req.Kind == protocol.BoxError {
		return protocol.AnswerPrimary
	}

	fmt.Fprintf(c.out, "[y] %s, [n] %s, anything else cancels: ", primary, secondary)

	c.once.Do(func() { go c.readLines() })

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)

		return protocol.AnswerCancel
	case line := <-c.lines:
		switch line {
		case "y", "yes":
			return protocol.AnswerPrimary
		case "n", "no":
			return protocol.AnswerSecondary
		default:
			return protocol.AnswerCancel
		}
	}
}
