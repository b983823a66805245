// Package cli is the interactive terminal front end of a chat session.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"streamchat/internal/infra/config"
	"streamchat/internal/usecase"
)

// TurnSubmitter runs one conversation turn.
type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, text string, onDelta usecase.DeltaFunc) (*usecase.TurnResult, error)
}

// LineReader reads one line of user input. It returns io.EOF or
// readline.ErrInterrupt when the user ends the session.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// NewLineReader returns a readline-backed reader with history when stdin is
// a terminal, and a plain buffered reader otherwise.
func NewLineReader(cfg config.UIConfig, prompt string, logger *slog.Logger) LineReader {
	if readline.IsTerminal(int(os.Stdin.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          prompt,
			HistoryFile:     cfg.HistoryFile,
			HistoryLimit:    100,
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err == nil {
			return rl
		}
		logger.Warn("readline unavailable, falling back to simple input", "error", err)
	}
	return NewBufferedLineReader(os.Stdin, os.Stdout, prompt)
}

// bufferedLineReader reads lines from a plain stream.
type bufferedLineReader struct {
	r      *bufio.Reader
	out    io.Writer
	prompt string
}

// NewBufferedLineReader reads lines from in, writing prompt to out first.
func NewBufferedLineReader(in io.Reader, out io.Writer, prompt string) LineReader {
	return &bufferedLineReader{r: bufio.NewReader(in), out: out, prompt: prompt}
}

func (b *bufferedLineReader) Readline() (string, error) {
	io.WriteString(b.out, b.prompt)
	line, err := b.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *bufferedLineReader) Close() error { return nil }

// REPL reads user messages and streams the replies.
type REPL struct {
	session  TurnSubmitter
	in       LineReader
	out      io.Writer
	renderer *Renderer
	logger   *slog.Logger
}

// NewREPL wires a session to an input source and a renderer.
func NewREPL(session TurnSubmitter, in LineReader, out io.Writer, renderer *Renderer, logger *slog.Logger) *REPL {
	return &REPL{
		session:  session,
		in:       in,
		out:      out,
		renderer: renderer,
		logger:   logger,
	}
}

// Run loops until the user quits, input ends, or ctx is cancelled. A failed
// turn is reported and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	defer r.in.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.readLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if isQuit(input) {
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		}

		r.renderer.Start()
		result, err := r.session.SubmitTurn(ctx, input, r.renderer.Delta)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.renderer.Failure(err)
			continue
		}
		r.renderer.Finish(result)
	}
}

type readResult struct {
	line string
	err  error
}

// readLine waits for the next line or for ctx to be cancelled. A plain
// stdin read cannot be interrupted, so on cancellation the pending read is
// abandoned and the reader closed.
func (r *REPL) readLine(ctx context.Context) (string, error) {
	ch := make(chan readResult, 1)
	go func() {
		line, err := r.in.Readline()
		ch <- readResult{line: line, err: err}
	}()

	select {
	case res := <-ch:
		return res.line, res.err
	case <-ctx.Done():
		r.logger.Debug("input read abandoned", "reason", ctx.Err())
		r.in.Close()
		return "", ctx.Err()
	}
}

func isQuit(input string) bool {
	switch strings.ToLower(input) {
	case "quit", "exit":
		return true
	default:
		return false
	}
}
