// Package state holds the pure transition rules for pipeline entities.
// Every mutating operation goes through these tables; a rejected action
// returns *InvalidTransitionError and must not touch the store.
package state

import (
	"errors"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
)

// InvalidTransitionError reports an action attempted from a state outside
// its allowed source set.
type InvalidTransitionError struct {
	Entity string
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s %s in %q status", e.Action, e.Entity, e.From)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// IdeaAction is an event applied to an Idea.
type IdeaAction string

const (
	// IdeaRefine sends the idea to the clarifier pipeline.
	IdeaRefine IdeaAction = "refine"
	// IdeaApprove converts the idea into a ticket.
	IdeaApprove IdeaAction = "approve"
	// IdeaReject terminates the idea.
	IdeaReject IdeaAction = "reject"
	// IdeaQuestionsRaised is the refinement outcome when the agent asked for clarification.
	IdeaQuestionsRaised IdeaAction = "questions_raised"
	// IdeaNoQuestions is the refinement outcome when the agent had nothing to ask.
	IdeaNoQuestions IdeaAction = "no_questions"
	// IdeaQuestionsResolved fires when the last pending question is answered or skipped.
	IdeaQuestionsResolved IdeaAction = "questions_resolved"
)

var ideaTransitions = map[IdeaAction]map[models.IdeaStatus]models.IdeaStatus{
	IdeaRefine: {
		models.IdeaPending:   models.IdeaRefining,
		models.IdeaQuestions: models.IdeaRefining,
	},
	IdeaApprove: {
		models.IdeaPending:   models.IdeaConverted,
		models.IdeaRefining:  models.IdeaConverted,
		models.IdeaQuestions: models.IdeaConverted,
		models.IdeaApproved:  models.IdeaConverted,
	},
	IdeaReject: {
		models.IdeaPending:   models.IdeaRejected,
		models.IdeaRefining:  models.IdeaRejected,
		models.IdeaQuestions: models.IdeaRejected,
		models.IdeaApproved:  models.IdeaRejected,
	},
	IdeaQuestionsRaised: {
		models.IdeaRefining: models.IdeaQuestions,
	},
	IdeaNoQuestions: {
		models.IdeaRefining: models.IdeaApproved,
	},
	IdeaQuestionsResolved: {
		models.IdeaQuestions: models.IdeaRefining,
	},
}

// NextIdeaStatus returns the status an idea moves to for action, or an
// InvalidTransitionError when the action is not allowed from cur.
func NextIdeaStatus(cur models.IdeaStatus, action IdeaAction) (models.IdeaStatus, error) {
	if next, ok := ideaTransitions[action][cur]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{Entity: "idea", From: string(cur), Action: string(action)}
}

// TicketAction is an event applied to a Ticket.
type TicketAction string

const (
	TicketStart           TicketAction = "start"
	TicketSubmitForReview TicketAction = "submit_for_review"
	TicketApprove         TicketAction = "approve"
	TicketRequestChanges  TicketAction = "request_changes"
	TicketCancel          TicketAction = "cancel"
	// TicketBlock is forced when a development handler fails mid-flight.
	TicketBlock TicketAction = "block"
)

var ticketTransitions = map[TicketAction]map[models.TicketStatus]models.TicketStatus{
	TicketStart: {
		models.TicketQueued:  models.TicketInProgress,
		models.TicketBlocked: models.TicketInProgress,
	},
	TicketSubmitForReview: {
		models.TicketInProgress: models.TicketReview,
	},
	TicketApprove: {
		models.TicketReview: models.TicketDone,
	},
	TicketRequestChanges: {
		models.TicketReview: models.TicketInProgress,
	},
	TicketCancel: {
		models.TicketQueued:     models.TicketCancelled,
		models.TicketInProgress: models.TicketCancelled,
		models.TicketReview:     models.TicketCancelled,
		models.TicketBlocked:    models.TicketCancelled,
	},
	TicketBlock: {
		models.TicketInProgress: models.TicketBlocked,
	},
}

// NextTicketStatus returns the status a ticket moves to for action, or an
// InvalidTransitionError when the action is not allowed from cur.
func NextTicketStatus(cur models.TicketStatus, action TicketAction) (models.TicketStatus, error) {
	if next, ok := ticketTransitions[action][cur]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{Entity: "ticket", From: string(cur), Action: string(action)}
}

// SubtaskAction is an event applied to a Subtask.
type SubtaskAction string

const (
	SubtaskStart    SubtaskAction = "start"
	SubtaskComplete SubtaskAction = "complete"
	SubtaskSkip     SubtaskAction = "skip"
)

var subtaskTransitions = map[SubtaskAction]map[models.SubtaskStatus]models.SubtaskStatus{
	SubtaskStart: {
		models.SubtaskPending: models.SubtaskInProgress,
	},
	SubtaskComplete: {
		models.SubtaskPending:    models.SubtaskDone,
		models.SubtaskInProgress: models.SubtaskDone,
	},
	SubtaskSkip: {
		models.SubtaskPending:    models.SubtaskSkipped,
		models.SubtaskInProgress: models.SubtaskSkipped,
	},
}

// NextSubtaskStatus returns the status a subtask moves to for action, or an
// InvalidTransitionError when the action is not allowed from cur.
func NextSubtaskStatus(cur models.SubtaskStatus, action SubtaskAction) (models.SubtaskStatus, error) {
	if next, ok := subtaskTransitions[action][cur]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{Entity: "subtask", From: string(cur), Action: string(action)}
}
