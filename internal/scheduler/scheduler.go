package scheduler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// Publishing is one network call; anything longer than this is a
	// stuck worker, not a slow platform.
	publishTaskTimeout = 2 * time.Minute
	// Completed and failed tasks stay inspectable for a day.
	taskRetention = 24 * time.Hour
)

// JobState values surfaced to the API.
const (
	JobStateWaiting   = "waiting"
	JobStateDelayed   = "delayed"
	JobStateActive    = "active"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
	JobStateNotFound  = "not_found"
)

type JobStatus struct {
	State        string          `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
}

type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// Scheduler decouples "when a publish is requested" from "when it
// executes". It is a thin veneer over asynq's Redis-backed queue: the
// queue's backing store is authoritative, so due jobs survive a worker
// restart. Retry policy lives in the worker; tasks are enqueued with
// MaxRetry(0) so asynq never re-runs a failed attempt on its own.
type Scheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func New(redis asynq.RedisClientOpt) *Scheduler {
	return &Scheduler{
		client:    asynq.NewClient(redis),
		inspector: asynq.NewInspector(redis),
	}
}

func (s *Scheduler) Close() error {
	if err := s.client.Close(); err != nil {
		return err
	}
	return s.inspector.Close()
}

// Enqueue schedules one publish attempt. A zero or negative delay means
// "as soon as a worker is free"; there is no upper bound on delay.
func (s *Scheduler) Enqueue(job PublishJob, delay time.Duration) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.TaskID(job.JobID()),
		asynq.Queue(QueuePublish),
		asynq.MaxRetry(0),
		asynq.Timeout(publishTaskTimeout),
		asynq.Retention(taskRetention),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(TaskTypePublishPost, payload)
	info, err := s.client.Enqueue(task, opts...)
	if err != nil {
		return "", err
	}

	slog.Info("publish job enqueued", "job_id", info.ID, "post_id", job.PostID, "delay", delay.String())
	return info.ID, nil
}

// EnqueueTick queues one autolist rotation for a brand/platform on the
// lower-weight autolist queue.
func (s *Scheduler) EnqueueTick(job AutolistTickJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeAutolistTick, payload)
	_, err = s.client.Enqueue(task,
		asynq.Queue(QueueAutolist),
		asynq.MaxRetry(0),
		asynq.Timeout(publishTaskTimeout),
	)
	return err
}

// Cancel removes a not-yet-dispatched job. It returns false once the
// job has started executing or no longer exists; an in-flight publish
// is never preempted.
func (s *Scheduler) Cancel(jobID string) bool {
	err := s.inspector.DeleteTask(QueuePublish, jobID)
	if err != nil {
		if !errors.Is(err, asynq.ErrTaskNotFound) {
			slog.Info(err.Error())
		}
		return false
	}
	return true
}

// Status reports queue-level state for one job id.
func (s *Scheduler) Status(jobID string) JobStatus {
	info, err := s.inspector.GetTaskInfo(QueuePublish, jobID)
	if err != nil {
		return JobStatus{State: JobStateNotFound}
	}

	status := JobStatus{
		State: stateString(info.State),
		Error: info.LastErr,
	}
	if len(info.Result) > 0 {
		status.Result = json.RawMessage(info.Result)
	}
	if !info.NextProcessAt.IsZero() {
		next := info.NextProcessAt
		status.NextRunAt = &next
	}

	var job PublishJob
	if err := json.Unmarshal(info.Payload, &job); err == nil {
		status.AttemptsMade = job.Attempt
	}
	return status
}

func stateString(state asynq.TaskState) string {
	switch state {
	case asynq.TaskStatePending, asynq.TaskStateAggregating:
		return JobStateWaiting
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return JobStateDelayed
	case asynq.TaskStateActive:
		return JobStateActive
	case asynq.TaskStateCompleted:
		return JobStateCompleted
	case asynq.TaskStateArchived:
		return JobStateFailed
	}
	return JobStateNotFound
}

// Counts returns aggregate publish-queue numbers for dashboards.
func (s *Scheduler) Counts() (*Counts, error) {
	info, err := s.inspector.GetQueueInfo(QueuePublish)
	if err != nil {
		return nil, err
	}
	return &Counts{
		Waiting:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
		Delayed:   info.Scheduled + info.Retry,
		Total:     info.Size,
	}, nil
}

// DelayUntil clamps a target time to a non-negative queue delay.
func DelayUntil(at time.Time) time.Duration {
	delay := time.Until(at)
	if delay < 0 {
		return 0
	}
	return delay
}
