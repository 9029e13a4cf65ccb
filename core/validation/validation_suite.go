// Package validation runs startup checks before the server accepts traffic.
//
// Each check is a molecule: a named function that inspects one dependency
// (configuration, storage directory, database, provider catalog). The
// ValidationSuite organism runs them in order and prints colored progress.
//
// Example:
//
//	suite := validation.NewValidationSuite().
//	    Add("Configuration", validation.ConfigCheck(cfg)).
//	    AddOptional("Disk Space", validation.DiskSpaceCheck(dir, 512<<20))
//	if res := suite.Validate(ctx); !res.Success {
//	    return res.GetFirstError()
//	}
package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// CheckFunc inspects one dependency. The message is shown next to the step
// name on success and failure alike.
type CheckFunc func(ctx context.Context) (message string, err error)

// ValidationStep represents a single validation step with its status.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// StepStatus represents the status of a validation step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SuiteResult represents the complete result of validation suite execution.
type SuiteResult struct {
	Steps       []ValidationStep
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

type registeredCheck struct {
	name     string
	fn       CheckFunc
	optional bool
}

// ValidationSuite runs registered checks in registration order.
type ValidationSuite struct {
	output       io.Writer
	checks       []registeredCheck
	timeout      time.Duration
	showProgress bool
	failFast     bool
}

// NewValidationSuite creates a new ValidationSuite with default settings.
func NewValidationSuite() *ValidationSuite {
	return &ValidationSuite{
		output:       os.Stdout,
		timeout:      30 * time.Second,
		showProgress: true,
	}
}

// WithOutput sets the output writer for progress messages.
func (s *ValidationSuite) WithOutput(w io.Writer) *ValidationSuite {
	s.output = w
	return s
}

// WithTimeout bounds each individual check.
func (s *ValidationSuite) WithTimeout(timeout time.Duration) *ValidationSuite {
	s.timeout = timeout
	return s
}

// WithShowProgress enables or disables progress output.
func (s *ValidationSuite) WithShowProgress(show bool) *ValidationSuite {
	s.showProgress = show
	return s
}

// WithFailFast stops validation on first required failure if enabled.
// Remaining checks are reported as skipped.
func (s *ValidationSuite) WithFailFast(failFast bool) *ValidationSuite {
	s.failFast = failFast
	return s
}

// Add registers a required check. A failing required check fails the suite.
func (s *ValidationSuite) Add(name string, fn CheckFunc) *ValidationSuite {
	s.checks = append(s.checks, registeredCheck{name: name, fn: fn})
	return s
}

// AddOptional registers a check whose failure is reported as a warning.
func (s *ValidationSuite) AddOptional(name string, fn CheckFunc) *ValidationSuite {
	s.checks = append(s.checks, registeredCheck{name: name, fn: fn, optional: true})
	return s
}

// Validate runs all checks in sequence with progress output.
func (s *ValidationSuite) Validate(ctx context.Context) SuiteResult {
	startTime := time.Now()
	steps := make([]ValidationStep, 0, len(s.checks))

	if s.showProgress {
		s.printHeader("Image Backend Startup Validation")
	}

	stopped := false
	for _, check := range s.checks {
		if stopped || ctx.Err() != nil {
			step := ValidationStep{Name: check.name, Status: StepSkipped, Message: "Skipped after earlier failure"}
			if ctx.Err() != nil {
				step.Message = "Skipped: " + ctx.Err().Error()
			}
			if s.showProgress {
				s.printStep(step)
			}
			steps = append(steps, step)
			continue
		}

		step := s.runStep(ctx, check)
		steps = append(steps, step)
		if s.failFast && step.Status == StepFailed {
			stopped = true
		}
	}

	result := s.buildResult(steps, startTime)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

// runStep executes a validation step with timing and progress output.
// Panics inside a check are reported as failures.
func (s *ValidationSuite) runStep(ctx context.Context, check registeredCheck) (step ValidationStep) {
	step = ValidationStep{Name: check.name, Status: StepRunning}
	if s.showProgress {
		s.printStepStart(check.name)
	}

	stepCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			step.Error = fmt.Errorf("check panicked: %v", r)
		}
		step.Latency = time.Since(startTime)
		switch {
		case step.Error == nil:
			step.Status = StepPassed
		case check.optional:
			step.Status = StepWarning
		default:
			step.Status = StepFailed
		}
		if s.showProgress {
			s.printStep(step)
		}
	}()

	step.Message, step.Error = check.fn(stepCtx)
	return step
}

// buildResult creates a SuiteResult from completed steps.
func (s *ValidationSuite) buildResult(steps []ValidationStep, startTime time.Time) SuiteResult {
	result := SuiteResult{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(startTime),
		Success:    true,
	}

	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		}
	}

	return result
}

func (s *ValidationSuite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *ValidationSuite) printStepStart(name string) {
	fmt.Fprintf(s.output, "  ◌ %s...", name)
}

func (s *ValidationSuite) printStep(step ValidationStep) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	// Overwrite the "running" line.
	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if (step.Status == StepFailed || step.Status == StepWarning) && step.Error != nil {
		clr.Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *ValidationSuite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)

	if result.Success {
		successColor := color.New(color.FgGreen, color.Bold)
		successColor.Fprintf(s.output, "━━━ Validation Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d checks passed in %v)",
			result.PassedSteps, result.TotalSteps, result.Duration.Round(time.Millisecond))
		successColor.Fprintln(s.output, " ━━━")
	} else {
		failColor := color.New(color.FgRed, color.Bold)
		failColor.Fprintf(s.output, "━━━ Validation Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		failColor.Fprintln(s.output, " ━━━")
	}

	fmt.Fprintln(s.output)
}

// GetFirstError returns the first error from a failed required step, or nil.
func (r SuiteResult) GetFirstError() error {
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a human-readable summary string.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("Validation Passed: ")
	} else {
		sb.WriteString("Validation Failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d checks passed", r.PassedSteps, r.TotalSteps)
	if r.FailedSteps > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedSteps)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}
