package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/searchflow/internal/workflow/engine"
	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards engine events to a running program.
type Observer struct {
	sender Sender
}

// NewObserver returns an engine.Observer feeding sender.
func NewObserver(sender Sender) *Observer {
	return &Observer{sender: sender}
}

var _ engine.Observer = (*Observer)(nil)

// OnTransition sends a TransitionMsg carrying the rendered failure, if any.
func (o *Observer) OnTransition(tr task.Transition) {
	msg := TransitionMsg{Task: task.Name(tr.Task), From: tr.From, To: tr.To}
	if tr.Err != nil {
		msg.Error = failure.DetailedMessage(tr.Err)
	}
	o.sender.Send(msg)
}

// OnPass sends the pass summary as a PassMsg.
func (o *Observer) OnPass(summary engine.PassSummary) {
	o.sender.Send(PassMsg(summary))
}
