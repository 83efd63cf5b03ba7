package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner is a blocking-style spinner for one-shot CLI steps such as
// creating a room or negotiating a call.
type SimpleSpinner struct {
	spinner  spinner.Spinner
	interval time.Duration
	out      io.Writer

	mu      sync.Mutex
	message string

	done chan struct{}
	wg   sync.WaitGroup
	stop sync.Once
}

func newSpinner(message string, s spinner.Spinner, interval time.Duration) *SimpleSpinner {
	return &SimpleSpinner{
		message:  message,
		spinner:  s,
		interval: interval,
		out:      os.Stdout,
		done:     make(chan struct{}),
	}
}

// NewSimpleSpinner creates a spinner for general loading operations (Dot style)
func NewSimpleSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Dot, 80*time.Millisecond)
}

// NewConnectionSpinner creates a spinner for network/connection operations (Globe style)
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Globe, 180*time.Millisecond)
}

func (s *SimpleSpinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		frames := s.spinner.Frames
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()

			frame := SpinnerStyle.Render(frames[i%len(frames)])
			fmt.Fprintf(s.out, "\r%s %s", frame, msg)

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. Safe to call more than once.
func (s *SimpleSpinner) Stop() {
	s.stop.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.out, "\r\033[K") // Clear the line
	})
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *SimpleSpinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// RunSpinner starts a loading spinner and returns a stop function
func RunSpinner(message string) func() {
	sp := NewSimpleSpinner(message)
	sp.Start()
	return sp.Stop
}

// RunConnectionSpinner starts a connection spinner and returns a stop function
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
