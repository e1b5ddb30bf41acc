package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/shell"
	"github.com/irgordon/deploycenter/internal/sshkey"
)

// Result is the outcome handed back to the orchestrator.
type Result struct {
	Success        bool
	CompletedSteps int
	TotalSteps     int
	Duration       time.Duration
	ErrorMessage   string
}

// commandSession is the slice of shell.Session the runner needs; tests
// substitute a scripted fake.
type commandSession interface {
	Run(command string, timeout time.Duration, onStdout, onStderr func(string)) (int, error)
	Close()
}

// packageManagerNoise marks stderr lines that are advisory chatter, not
// errors: package managers love the error stream.
var packageManagerNoise = []string{"npm notice", "npm warn", "npm WARN", "yarn warning", "pnpm WARN", "composer warning"}

// Runner executes a project's user pipeline inside one persistent shell
// session, streaming output to the real-time hub and recording each step
// durably.
type Runner struct {
	steps  domain.StepRepository
	hub    domain.Broadcaster
	logger *slog.Logger

	commandTimeout time.Duration
	newSession     func(dir string, env []string) (commandSession, error)
}

func NewRunner(steps domain.StepRepository, hub domain.Broadcaster, logger *slog.Logger) *Runner {
	return &Runner{
		steps:          steps,
		hub:            hub,
		logger:         logger,
		commandTimeout: shell.DefaultCommandTimeout,
		newSession: func(dir string, env []string) (commandSession, error) {
			return shell.NewSession(dir, env, logger)
		},
	}
}

// Execute runs every step of the pipeline in order. The session environment
// carries GIT_SSH_COMMAND when a key handle is supplied, so every git
// invocation inside any step authenticates with the ephemeral key.
func (r *Runner) Execute(
	ctx context.Context,
	deploymentID, projectID uuid.UUID,
	steps []domain.PipelineStep,
	deployCtx domain.Context,
	projectPath string,
	keyHandle *sshkey.Handle,
	pipelineName string,
) Result {
	started := time.Now()
	total := len(steps)

	emit := func(line string) {
		r.hub.EmitDeploymentLog(deploymentID, projectID, line)
	}

	emit(fmt.Sprintf("━━━ Pipeline %q started (%d steps) ━━━", pipelineName, total))

	session, err := r.newSession(projectPath, sshkey.GitEnv(keyHandle))
	if err != nil {
		msg := fmt.Sprintf("failed to start shell session: %v", err)
		emit("[ERROR] " + msg)
		return Result{TotalSteps: total, Duration: time.Since(started), ErrorMessage: msg}
	}
	defer session.Close()

	for i, step := range steps {
		stepNum := i + 1
		emit(fmt.Sprintf("── Step %d/%d: %s", stepNum, total, step.Name))

		record := &domain.DeploymentStep{
			ID:           uuid.New(),
			DeploymentID: deploymentID,
			StepNumber:   stepNum,
			Name:         step.Name,
			Status:       domain.StepRunning,
			StartedAt:    time.Now(),
		}
		if err := r.steps.CreateRunning(ctx, record); err != nil {
			r.logger.Error("cannot persist step record",
				slog.String("deployment_id", deploymentID.String()),
				slog.Any("error", err))
		}

		if step.RunIf != "" {
			run, evalErr := EvaluateCondition(step.RunIf, deployCtx)
			if evalErr != nil {
				r.logger.Warn("step condition failed to evaluate, skipping step",
					slog.String("step", step.Name),
					slog.String("condition", step.RunIf),
					slog.Any("error", evalErr))
				emit(fmt.Sprintf("Skipping %q: condition error: %v", step.Name, evalErr))
			}
			if !run {
				emit(fmt.Sprintf("Skipping %q (condition not met)", step.Name))
				r.finishStep(ctx, record.ID, domain.StepSkipped, 0, "", "")
				continue
			}
		}

		stepStart := time.Now()
		var output, errOutput, warnOutput strings.Builder

		failed := false
		var failMsg string
		for _, raw := range step.Run {
			command := Substitute(raw, deployCtx)
			emit("$ " + command)

			exit, runErr := session.Run(command, r.commandTimeout,
				func(line string) {
					emit(line)
					output.WriteString(line)
					output.WriteByte('\n')
				},
				func(line string) {
					if isPackageManagerNoise(line) {
						warnOutput.WriteString(line)
						warnOutput.WriteByte('\n')
						emit(line)
						return
					}
					emit("[ERROR] " + line)
					errOutput.WriteString(line)
					errOutput.WriteByte('\n')
				},
			)

			if runErr != nil {
				failed = true
				failMsg = fmt.Sprintf("step %q: %v", step.Name, runErr)
			} else if exit != 0 {
				failed = true
				failMsg = fmt.Sprintf("step %q: command exited with code %d", step.Name, exit)
			}
			if failed {
				break
			}
		}

		stepDuration := time.Since(stepStart)

		if failed {
			emit(fmt.Sprintf("━━━ Pipeline failed at step %q ━━━", step.Name))
			errTail := errOutput.String()
			if errTail == "" {
				errTail = failMsg
			}
			r.finishStep(ctx, record.ID, domain.StepFailed, stepDuration.Seconds(), output.String(), errTail)
			// Tear the session (and its whole process group) down before
			// reporting so nothing keeps running behind a failed step.
			session.Close()
			return Result{
				CompletedSteps: i,
				TotalSteps:     total,
				Duration:       time.Since(started),
				ErrorMessage:   failMsg,
			}
		}

		r.finishStep(ctx, record.ID, domain.StepSuccess, stepDuration.Seconds(), output.String(), errOutput.String())
	}

	emit(fmt.Sprintf("━━━ Pipeline %q completed (%d/%d steps) ━━━", pipelineName, total, total))
	return Result{
		Success:        true,
		CompletedSteps: total,
		TotalSteps:     total,
		Duration:       time.Since(started),
	}
}

func (r *Runner) finishStep(ctx context.Context, id uuid.UUID, status domain.StepStatus, duration float64, output, errOutput string) {
	if err := r.steps.Finish(ctx, id, status, time.Now(), duration, output, errOutput); err != nil {
		r.logger.Error("cannot finalise step record", slog.String("step_id", id.String()), slog.Any("error", err))
	}
}

func isPackageManagerNoise(line string) bool {
	for _, marker := range packageManagerNoise {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
