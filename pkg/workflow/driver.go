// Package workflow drives the two project-lifecycle workflows against the
// MCP client: creation and modification. Each is a fixed sequence of remote
// calls emitting one progress event per step, cancellable via context. The
// driver is the sole writer of ProjectState for workflow-initiated
// transitions.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/mcpclient"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/orcherrors"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

// Events is the subset of the Event Bus producer the driver needs. Defined
// here, satisfied structurally by pkg/eventbus.Producer, so this package has
// no dependency on the Kafka wiring.
type Events interface {
	EmitProgress(ctx context.Context, sessionID, projectID string, progress float64, message string) error
	Emit(ctx context.Context, eventType, sessionID, projectID string, data map[string]any) error
}

// ModificationStatus is the outcome tag RunModification and ResumeModification
// return to the Coordinator.
type ModificationStatus string

const (
	ModificationCompleted          ModificationStatus = "completed"
	ModificationConfirmationNeeded ModificationStatus = "confirmation_needed"
)

// ModificationResult is what a modification workflow run reports back.
type ModificationResult struct {
	Status ModificationStatus
	Impact *mcpclient.ImpactAnalysis
}

// Driver runs the two project-lifecycle workflows.
type Driver struct {
	mcp     *mcpclient.Client
	tracker *convstate.Tracker
	ctxMgr  *convcontext.Manager
	events  Events
	logger  *slog.Logger
}

// NewDriver creates a Driver wiring the MCP client, State Tracker, Context
// Manager, and Event Bus producer together.
func NewDriver(mcp *mcpclient.Client, tracker *convstate.Tracker, ctxMgr *convcontext.Manager, events Events) *Driver {
	return &Driver{
		mcp:     mcp,
		tracker: tracker,
		ctxMgr:  ctxMgr,
		events:  events,
		logger:  slog.Default().With("component", "workflow"),
	}
}

// RunCreation executes the creation workflow for sessionID,
// using the requirements and project_type already recorded on the session's
// ProjectContext by the Context Manager.
func (d *Driver) RunCreation(ctx context.Context, sessionID string) error {
	pc, err := d.ctxMgr.ProjectContext(ctx, sessionID)
	if err != nil {
		return d.fail(ctx, sessionID, "", "creation", err)
	}
	requirements := map[string]any{}
	projectType := ""
	if pc != nil {
		requirements = pc.Requirements
		projectType = pc.ProjectType
	}

	if ok, err := d.tracker.UpdateProject(ctx, sessionID, session.ProjectPlanning, nil); err != nil {
		return err
	} else if !ok {
		return orcherrors.New(orcherrors.KindInvalidStateTransition, "cannot start creation from current project state")
	}

	structure, err := d.mcp.GenerateProjectStructure(ctx, requirements, projectType)
	if err != nil {
		return d.fail(ctx, sessionID, "", "creation", err)
	}
	if err := d.ctxMgr.SetProjectID(ctx, sessionID, structure.ProjectID, projectType); err != nil {
		return d.fail(ctx, sessionID, structure.ProjectID, "creation", err)
	}
	if err := d.events.EmitProgress(ctx, sessionID, structure.ProjectID, 0.1, "Analyzing requirements"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	if _, err := d.tracker.UpdateProject(ctx, sessionID, session.ProjectInProgress, nil); err != nil {
		return err
	}
	if err := d.events.EmitProgress(ctx, sessionID, structure.ProjectID, 0.3, "Setting up project structure"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	if needsStep(requirements, "needs_backend") {
		if _, err := d.mcp.GenerateBackend(ctx, structure.ProjectID, requirements); err != nil {
			return d.fail(ctx, sessionID, structure.ProjectID, "creation", err)
		}
		if err := d.events.EmitProgress(ctx, sessionID, structure.ProjectID, 0.5, "Generating backend"); err != nil {
			d.logger.Warn("emit progress failed", "error", err)
		}
	}

	if needsStep(requirements, "needs_frontend") {
		if _, err := d.mcp.GenerateFrontend(ctx, structure.ProjectID, requirements); err != nil {
			return d.fail(ctx, sessionID, structure.ProjectID, "creation", err)
		}
		if err := d.events.EmitProgress(ctx, sessionID, structure.ProjectID, 0.7, "Generating frontend"); err != nil {
			d.logger.Warn("emit progress failed", "error", err)
		}
	}

	if _, err := d.mcp.SetupInfrastructure(ctx, structure.ProjectID, requirements); err != nil {
		return d.fail(ctx, sessionID, structure.ProjectID, "creation", err)
	}
	if err := d.events.EmitProgress(ctx, sessionID, structure.ProjectID, 0.9, "Setting up infrastructure"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	validation, err := d.mcp.ValidateConsistency(ctx, structure.ProjectID, "full")
	if err != nil {
		return d.fail(ctx, sessionID, structure.ProjectID, "creation", err)
	}
	if err := d.events.EmitProgress(ctx, sessionID, structure.ProjectID, 1.0, "Done"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	if _, err := d.tracker.UpdateProject(ctx, sessionID, session.ProjectCompleted, map[string]any{"lastValidation": validation.Status}); err != nil {
		return err
	}
	if _, err := d.tracker.TransitionConversation(ctx, sessionID, session.StateCompleted); err != nil {
		return err
	}
	return d.events.Emit(ctx, "project.creation.completed", sessionID, structure.ProjectID, map[string]any{
		"issues": validation.Issues,
	})
}

// RunModification executes the modification workflow for sessionID against
// requestedChange. A high-risk impact analysis stops the workflow and asks
// the user to confirm before anything is changed.
func (d *Driver) RunModification(ctx context.Context, sessionID, requestedChange string) (ModificationResult, error) {
	pc, err := d.ctxMgr.ProjectContext(ctx, sessionID)
	if err != nil {
		return ModificationResult{}, err
	}
	if pc == nil || pc.ProjectID == "" {
		return ModificationResult{}, orcherrors.New(orcherrors.KindValidation, "no project to modify")
	}

	if _, err := d.tracker.UpdateProject(ctx, sessionID, session.ProjectModifying, nil); err != nil {
		return ModificationResult{}, err
	}
	if err := d.events.EmitProgress(ctx, sessionID, pc.ProjectID, 0.1, "Analyzing requested change"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	impact, err := d.mcp.AnalyzeChangeImpact(ctx, pc.ProjectID, requestedChange, pc.CurrentState)
	if err != nil {
		return ModificationResult{}, d.fail(ctx, sessionID, pc.ProjectID, "modification", err)
	}
	if err := d.events.EmitProgress(ctx, sessionID, pc.ProjectID, 0.3, "Impact analysis complete"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	if impact.RiskLevel == "high" {
		if err := d.ctxMgr.AddModification(ctx, sessionID, session.Modification{
			Timestamp:    now(),
			OriginalText: requestedChange,
			Impact: &session.ImpactAnalysis{
				AffectedComponents: impact.AffectedComponents,
				RiskLevel:          impact.RiskLevel,
				BreakingChanges:    impact.BreakingChanges,
				RequiredUpdates:    impact.RequiredUpdates,
				Complexity:         impact.Complexity,
			},
		}); err != nil {
			return ModificationResult{}, err
		}
		if _, err := d.tracker.TransitionConversation(ctx, sessionID, session.StateAwaitingFeedback); err != nil {
			return ModificationResult{}, err
		}
		// The workflow stops here without succeeding, so progress never
		// reaches 1.0; the impact rides along so clients can show what the
		// user is being asked to confirm.
		if err := d.events.Emit(ctx, "project.modification.confirmation_needed", sessionID, pc.ProjectID, map[string]any{
			"riskLevel":          impact.RiskLevel,
			"affectedComponents": impact.AffectedComponents,
			"breakingChanges":    impact.BreakingChanges,
			"requiredUpdates":    impact.RequiredUpdates,
		}); err != nil {
			d.logger.Warn("emit confirmation event failed", "error", err)
		}
		return ModificationResult{Status: ModificationConfirmationNeeded, Impact: &impact}, nil
	}

	if err := d.applyModification(ctx, sessionID, pc.ProjectID, requestedChange, impact); err != nil {
		return ModificationResult{}, err
	}
	return ModificationResult{Status: ModificationCompleted, Impact: &impact}, nil
}

// ResumeModification re-enters a modification workflow left at
// awaiting_feedback after the user confirms. The Coordinator invokes this
// when the conversation state is awaiting_feedback and the new message
// reclassifies as project_modify; it returns a validation error, changing
// nothing, when no pending high-risk Modification exists.
func (d *Driver) ResumeModification(ctx context.Context, sessionID string) (ModificationResult, error) {
	pc, err := d.ctxMgr.ProjectContext(ctx, sessionID)
	if err != nil {
		return ModificationResult{}, err
	}
	if pc == nil || pc.ProjectID == "" {
		return ModificationResult{}, orcherrors.New(orcherrors.KindValidation, "no project to resume")
	}

	pending := pendingModification(pc)
	if pending == nil {
		return ModificationResult{}, orcherrors.New(orcherrors.KindValidation, "no pending modification to resume")
	}

	impact := mcpclient.ImpactAnalysis{
		AffectedComponents: pending.Impact.AffectedComponents,
		RiskLevel:          pending.Impact.RiskLevel,
		BreakingChanges:    pending.Impact.BreakingChanges,
		RequiredUpdates:    pending.Impact.RequiredUpdates,
		Complexity:         pending.Impact.Complexity,
	}

	if err := d.applyModification(ctx, sessionID, pc.ProjectID, pending.OriginalText, impact); err != nil {
		return ModificationResult{}, err
	}
	return ModificationResult{Status: ModificationCompleted, Impact: &impact}, nil
}

// applyModification runs workflow steps 3-5 of the Modification workflow:
// update each affected component, validate, record, complete.
func (d *Driver) applyModification(ctx context.Context, sessionID, projectID, originalText string, impact mcpclient.ImpactAnalysis) error {
	for _, component := range impact.AffectedComponents {
		if _, err := d.mcp.UpdateComponents(ctx, projectID, []string{component}, "modify"); err != nil {
			return d.fail(ctx, sessionID, projectID, "modification", err)
		}
	}
	if err := d.events.EmitProgress(ctx, sessionID, projectID, 0.6, "Updating components"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	validation, err := d.mcp.ValidateConsistency(ctx, projectID, "modified")
	if err != nil {
		return d.fail(ctx, sessionID, projectID, "modification", err)
	}
	if err := d.events.EmitProgress(ctx, sessionID, projectID, 0.9, "Validating changes"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	if err := d.ctxMgr.AddModification(ctx, sessionID, session.Modification{
		Timestamp:    now(),
		OriginalText: originalText,
		Impact: &session.ImpactAnalysis{
			AffectedComponents: impact.AffectedComponents,
			RiskLevel:          impact.RiskLevel,
			BreakingChanges:    impact.BreakingChanges,
			RequiredUpdates:    impact.RequiredUpdates,
			Complexity:         impact.Complexity,
		},
		ExecutionResult: map[string]any{"status": validation.Status},
	}); err != nil {
		return err
	}
	if err := d.events.EmitProgress(ctx, sessionID, projectID, 1.0, "Done"); err != nil {
		d.logger.Warn("emit progress failed", "error", err)
	}

	if _, err := d.tracker.UpdateProject(ctx, sessionID, session.ProjectCompleted, map[string]any{"lastValidation": validation.Status}); err != nil {
		return err
	}
	if _, err := d.tracker.TransitionConversation(ctx, sessionID, session.StateCompleted); err != nil {
		return err
	}
	return d.events.Emit(ctx, "project.modification.completed", sessionID, projectID, map[string]any{
		"issues": validation.Issues,
	})
}

// fail implements the failure-handling contract: ProjectState moves to
// failed, conversation state moves to error, and both a project.*.failed and
// an error event are emitted. Partial MCP artifacts are not rolled back.
func (d *Driver) fail(ctx context.Context, sessionID, projectID, workflowName string, cause error) error {
	if _, uerr := d.tracker.UpdateProject(ctx, sessionID, session.ProjectFailed, map[string]any{"error": cause.Error()}); uerr != nil {
		d.logger.Error("failed to record project failure", "error", uerr)
	}
	if _, uerr := d.tracker.TransitionConversation(ctx, sessionID, session.StateError); uerr != nil {
		d.logger.Error("failed to transition conversation to error", "error", uerr)
	}

	kind := orcherrors.KindOf(cause)
	data := map[string]any{"errorType": string(kind), "message": cause.Error()}
	if err := d.events.Emit(ctx, fmt.Sprintf("project.%s.failed", workflowName), sessionID, projectID, data); err != nil {
		d.logger.Warn("emit failure event failed", "error", err)
	}
	if err := d.events.Emit(ctx, "error", sessionID, projectID, data); err != nil {
		d.logger.Warn("emit error event failed", "error", err)
	}
	return cause
}

func pendingModification(pc *session.ProjectContext) *session.Modification {
	for i := len(pc.Modifications) - 1; i >= 0; i-- {
		m := &pc.Modifications[i]
		if m.ExecutionResult == nil && m.Impact != nil && m.Impact.RiskLevel == "high" {
			return m
		}
	}
	return nil
}

// needsStep reports whether requirements[key] is anything other than the
// literal boolean false. An absent key means the step runs.
func needsStep(requirements map[string]any, key string) bool {
	v, ok := requirements[key]
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

var now = time.Now
