package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type progressSpinner interface {
	Success(...any)
	Fail(...any)
	Stop() error
}

type progressSpinnerFactory func(w io.Writer, text string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(w io.Writer, text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithRemoveWhenDone(false).
		WithWriter(w).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

type progressBar interface {
	Increment()
	Stop() error
}

type progressBarFactory func(w io.Writer, title string, total int) (progressBar, error)

type ptermBar struct {
	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter
}

func (b *ptermBar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar.Increment()
}

func (b *ptermBar) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.bar.Stop()
	return err
}

var defaultBarFactory progressBarFactory = func(w io.Writer, title string, total int) (progressBar, error) {
	bar, err := pterm.DefaultProgressbar.
		WithWriter(w).
		WithTitle(title).
		WithTotal(total).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return nil, err
	}
	return &ptermBar{bar: bar}, nil
}

// StepStatus is the state of a progress step.
type StepStatus int

const (
	// StepPending indicates a step has not yet started.
	StepPending StepStatus = iota
	// StepRunning indicates a step is currently in progress.
	StepRunning
	// StepCompleted indicates a step finished successfully.
	StepCompleted
	// StepFailed indicates a step encountered an error.
	StepFailed
)

// Step is one stage of a partition run.
type Step struct {
	ID        string
	Message   string
	Status    StepStatus
	startTime time.Time
}

// ProgressManager shows the stages of a run as spinners, one at a time, and the classified
// cameras of the partition stage as a progress bar.
type ProgressManager struct {
	mu       sync.Mutex
	out      io.Writer
	steps    map[string]*Step
	current  progressSpinner
	bar      progressBar
	disabled bool

	spinnerFactory progressSpinnerFactory
	barFactory     progressBarFactory
}

// ProgressManagerOption customizes a ProgressManager.
type ProgressManagerOption func(*ProgressManager)

// WithProgressOutput enables or disables terminal output.
func WithProgressOutput(enabled bool) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.disabled = !enabled
	}
}

func withProgressFactories(spinners progressSpinnerFactory, bars progressBarFactory) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.spinnerFactory = spinners
		pm.barFactory = bars
	}
}

// NewProgressManager returns a manager for the given steps writing to out.
func NewProgressManager(out io.Writer, steps []*Step, opts ...ProgressManagerOption) *ProgressManager {
	pm := &ProgressManager{
		out:            out,
		steps:          make(map[string]*Step, len(steps)),
		spinnerFactory: defaultSpinnerFactory,
		barFactory:     defaultBarFactory,
	}
	for _, step := range steps {
		pm.steps[step.ID] = step
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

func (pm *ProgressManager) step(id string) (*Step, error) {
	step, ok := pm.steps[id]
	if !ok {
		return nil, fmt.Errorf("step %q not found", id)
	}
	return step, nil
}

// Start begins the spinner of a step, stopping the previous one.
func (pm *ProgressManager) Start(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(id)
	if err != nil {
		return err
	}
	step.Status = StepRunning
	step.startTime = time.Now()
	if pm.disabled {
		return nil
	}
	if pm.current != nil {
		_ = pm.current.Stop() //nolint:errcheck
	}
	spinner, err := pm.spinnerFactory(pm.out, step.Message)
	if err != nil {
		return fmt.Errorf("failed to start spinner: %w", err)
	}
	pm.current = spinner
	return nil
}

// Complete marks a step as done, with an optional message replacing the step's.
func (pm *ProgressManager) Complete(id string, message ...string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(id)
	if err != nil {
		return err
	}
	step.Status = StepCompleted
	if pm.disabled {
		return nil
	}
	msg := step.Message
	if len(message) > 0 {
		msg = message[0]
	}
	msg += fmt.Sprintf(" (%s)", time.Since(step.startTime).Round(time.Millisecond))
	pm.stopBarLocked()
	if pm.current != nil {
		pm.current.Success(msg)
		pm.current = nil
	} else {
		pterm.Success.WithWriter(pm.out).Println(msg)
	}
	return nil
}

// Fail marks a step as failed.
func (pm *ProgressManager) Fail(id string, cause error) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(id)
	if err != nil {
		return err
	}
	step.Status = StepFailed
	pm.stopBarLocked()
	if pm.disabled {
		return nil
	}
	msg := fmt.Sprintf("%s: %v", step.Message, cause)
	if pm.current != nil {
		pm.current.Fail(msg)
		pm.current = nil
	} else {
		pterm.Error.WithWriter(pm.out).Println(msg)
	}
	return nil
}

// StartBar replaces the running spinner with a progress bar of total items. The bar is removed
// by the next Complete or Fail.
func (pm *ProgressManager) StartBar(title string, total int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.disabled || total <= 0 {
		return nil
	}
	if pm.current != nil {
		_ = pm.current.Stop() //nolint:errcheck
		pm.current = nil
	}
	bar, err := pm.barFactory(pm.out, title, total)
	if err != nil {
		return fmt.Errorf("failed to start progress bar: %w", err)
	}
	pm.bar = bar
	return nil
}

// Increment advances the progress bar. It is safe to call from several goroutines.
func (pm *ProgressManager) Increment() {
	pm.mu.Lock()
	bar := pm.bar
	pm.mu.Unlock()
	if bar != nil {
		bar.Increment()
	}
}

func (pm *ProgressManager) stopBarLocked() {
	if pm.bar != nil {
		_ = pm.bar.Stop() //nolint:errcheck
		pm.bar = nil
	}
}

// Stop stops any active spinner or bar.
func (pm *ProgressManager) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stopBarLocked()
	if pm.current != nil {
		_ = pm.current.Stop() //nolint:errcheck
		pm.current = nil
	}
}

// Run runs f as the step id. The message f returns, if any, replaces the step's on success.
func (pm *ProgressManager) Run(id string, f func() (string, error)) error {
	if err := pm.Start(id); err != nil {
		return err
	}
	msg, err := f()
	if err != nil {
		_ = pm.Fail(id, err) //nolint:errcheck
		return err
	}
	if msg == "" {
		return pm.Complete(id)
	}
	return pm.Complete(id, msg)
}
