package jobs

// Event is a job lifecycle notification, fanned out to observers
// through the orchestrator's publisher.
type Event interface {
	// Job this event relates to.
	Job() *Job
}

type jobEvent struct {
	job *Job
}

func (e jobEvent) Job() *Job {
	return e.job
}

type JobStarted struct {
	jobEvent
}
type JobProgress struct {
	jobEvent
	Percent float64
}
type JobCompleted struct {
	jobEvent
	Filename string
}
type JobFailed struct {
	jobEvent
	Err error
}
