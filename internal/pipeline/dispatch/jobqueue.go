package dispatch

import (
	jobsrepo "github.com/srleom/miniclue/internal/data/repos/jobs"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

// JobQueue writes jobs into the job_runs table inside the caller's
// transaction. The worker pool in internal/jobs/worker consumes them.
type JobQueue struct {
	repo jobsrepo.JobRunRepo
}

func NewJobQueue(repo jobsrepo.JobRunRepo) *JobQueue {
	return &JobQueue{repo: repo}
}

func (q *JobQueue) Publish(dbc dbctx.Context, topic envelope.Topic, p envelope.Payload) error {
	msg, err := NewMessage(topic, p)
	if err != nil {
		return err
	}
	lectureID := p.Lecture()
	_, err = q.repo.Enqueue(dbc, string(topic), &lectureID, msg.Data)
	return err
}
