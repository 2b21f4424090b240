package watch

import "github.com/qquiz/qquiz/internal/models"

// Observer is notified about a handle's progress. Calls are made from the
// handle's consuming goroutine, except the final StateClosed notification of
// a caller-initiated Close, which runs on the caller's goroutine.
type Observer interface {
	OnProgress(examID int64, ev models.ProgressEvent)
	OnStateChange(examID int64, state State)
	OnError(examID int64, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress    func(examID int64, ev models.ProgressEvent)
	StateChange func(examID int64, state State)
	Error       func(examID int64, err error)
}

func (o ObserverFuncs) OnProgress(examID int64, ev models.ProgressEvent) {
	if o.Progress != nil {
		o.Progress(examID, ev)
	}
}

func (o ObserverFuncs) OnStateChange(examID int64, state State) {
	if o.StateChange != nil {
		o.StateChange(examID, state)
	}
}

func (o ObserverFuncs) OnError(examID int64, err error) {
	if o.Error != nil {
		o.Error(examID, err)
	}
}
