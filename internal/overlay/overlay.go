package overlay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/goodtune/kscreen/internal/poller"
	"github.com/rs/zerolog"
)

// Presenter types accepted by New
const (
	TypeLog     = "log"
	TypeConsole = "console"
)

var (
	_ poller.Presenter = (*LogPresenter)(nil)
	_ poller.Presenter = (*ConsolePresenter)(nil)
)

// New creates the presenter named by kind
func New(kind string, logger zerolog.Logger) (poller.Presenter, error) {
	switch kind {
	case TypeLog, "":
		return NewLogPresenter(logger), nil
	case TypeConsole:
		return NewConsolePresenter(nil), nil
	default:
		return nil, fmt.Errorf("unknown presenter type: %s", kind)
	}
}

// state tracks what is on screen so repeated decisions from consecutive
// ticks are rendered once
type state struct {
	mu      sync.Mutex
	visible bool
	message string
}

// show records message and reports whether it changed what is on screen
func (s *state) show(message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible && s.message == message {
		return false
	}
	s.visible = true
	s.message = message
	return true
}

// hide clears the overlay and reports whether one was visible
func (s *state) hide() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.visible {
		return false
	}
	s.visible = false
	s.message = ""
	return true
}

// Visible reports whether an overlay is currently shown, and its message
func (s *state) Visible() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible, s.message
}

// LogPresenter renders the overlay as structured log lines
type LogPresenter struct {
	state
	logger zerolog.Logger
}

// NewLogPresenter creates a presenter that logs overlay changes
func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{
		logger: logger.With().Str("component", "overlay").Logger(),
	}
}

// ShowOverlay logs message when it differs from what is shown
func (p *LogPresenter) ShowOverlay(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.show(message) {
		p.logger.Warn().Str("message", message).Msg("Blocking overlay shown")
	}
	return nil
}

// HideOverlay logs when a visible overlay is removed
func (p *LogPresenter) HideOverlay(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.hide() {
		p.logger.Info().Msg("Blocking overlay removed")
	}
	return nil
}

// ConsolePresenter prints overlay changes to a terminal
type ConsolePresenter struct {
	state
	out   io.Writer
	alert *color.Color
	clear *color.Color
	mu    sync.Mutex
}

// NewConsolePresenter creates a presenter writing to out, stdout if nil
func NewConsolePresenter(out io.Writer) *ConsolePresenter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsolePresenter{
		out:   out,
		alert: color.New(color.FgRed, color.Bold),
		clear: color.New(color.FgGreen),
	}
}

// ShowOverlay prints message when it differs from what is shown
func (p *ConsolePresenter) ShowOverlay(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.show(message) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.alert.Fprintf(p.out, "⛔ %s\n", message); err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}
	return nil
}

// HideOverlay prints a notice when a visible overlay is removed
func (p *ConsolePresenter) HideOverlay(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.hide() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.clear.Fprintln(p.out, "✓ Overlay cleared"); err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}
	return nil
}
