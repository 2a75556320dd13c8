// Package boltdb provides the embedded project and workflow store backing
// the backend server.
package boltdb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/model"
	"github.com/macworp/macworp/util/fsutil"
)

var (
	// ProjectBucket maps project ID -> model.Project JSON.
	ProjectBucket = []byte("projects")
	// WorkflowBucket maps workflow ID -> model.Workflow JSON.
	WorkflowBucket = []byte("workflows")
)

// Store errors.
var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyScheduled = errors.New("project is already scheduled")
	ErrIgnored          = errors.New("project is ignored")
)

// BoltDB provides access to projects and workflows stored in an embedded
// database file.
type BoltDB struct {
	db  *bolt.DB
	log logger.Logger
}

// NewBoltDB opens the database file, creating buckets as needed.
func NewBoltDB(conf config.Server, log logger.Logger) (*BoltDB, error) {
	if err := fsutil.EnsureDirOf(conf.DBPath); err != nil {
		return nil, err
	}
	db, err := bolt.Open(conf.DBPath, 0600, &bolt.Options{Timeout: time.Second * 5})
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", conf.DBPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ProjectBucket, WorkflowBucket} {
			if tx.Bucket(bucket) == nil {
				if _, err := tx.CreateBucket(bucket); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return &BoltDB{db: db, log: log}, nil
}

// Close closes the database file.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// CreateProject stores a new project and assigns its ID.
func (b *BoltDB) CreateProject(name string) (*model.Project, error) {
	project := &model.Project{Name: name}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ProjectBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		project.ID = int64(seq)
		return putJSON(bucket, idKey(project.ID), project)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject returns the project with the given ID.
func (b *BoltDB) GetProject(id int64) (*model.Project, error) {
	project := &model.Project{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(ProjectBucket), idKey(id), project)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// ScheduleProject atomically marks the project as scheduled for a run of
// the given workflow. It fails when the project is ignored or already
// scheduled.
func (b *BoltDB) ScheduleProject(id, workflowID int64) (*model.Project, error) {
	project := &model.Project{}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ProjectBucket)
		if err := getJSON(bucket, idKey(id), project); err != nil {
			return err
		}
		if project.Ignore {
			return ErrIgnored
		}
		if project.IsScheduled {
			return ErrAlreadyScheduled
		}
		project.IsScheduled = true
		project.WorkflowID = workflowID
		project.SubmittedProcesses = 0
		project.CompletedProcesses = 0
		return putJSON(bucket, idKey(id), project)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// UnscheduleProject clears the scheduled flag, rolling back a schedule
// whose queue publish failed.
func (b *BoltDB) UnscheduleProject(id int64) error {
	return b.updateProject(id, func(p *model.Project) {
		p.IsScheduled = false
	})
}

// AddProgress adds the given deltas to the project's process counters and
// returns the updated project.
func (b *BoltDB) AddProgress(id int64, submitted, completed int) (*model.Project, error) {
	project := &model.Project{}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ProjectBucket)
		if err := getJSON(bucket, idKey(id), project); err != nil {
			return err
		}
		project.SubmittedProcesses += submitted
		project.CompletedProcesses += completed
		if project.CompletedProcesses > project.SubmittedProcesses {
			b.log.Warn("Project completed more processes than submitted",
				"project", id,
				"submitted", project.SubmittedProcesses,
				"completed", project.CompletedProcesses)
		}
		return putJSON(bucket, idKey(id), project)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// FinishProject resets the project to its unscheduled state. It is
// idempotent so workers may repeat the call after retries.
func (b *BoltDB) FinishProject(id int64) error {
	return b.updateProject(id, func(p *model.Project) {
		p.IsScheduled = false
		p.SubmittedProcesses = 0
		p.CompletedProcesses = 0
	})
}

// SetProjectIgnore sets the project's ignore flag.
func (b *BoltDB) SetProjectIgnore(id int64, ignore bool) error {
	return b.updateProject(id, func(p *model.Project) {
		p.Ignore = ignore
	})
}

func (b *BoltDB) updateProject(id int64, apply func(*model.Project)) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ProjectBucket)
		project := &model.Project{}
		if err := getJSON(bucket, idKey(id), project); err != nil {
			return err
		}
		apply(project)
		return putJSON(bucket, idKey(id), project)
	})
}

// CreateWorkflow stores a new workflow and assigns its ID.
func (b *BoltDB) CreateWorkflow(workflow *model.Workflow) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(WorkflowBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		workflow.ID = int64(seq)
		return putJSON(bucket, idKey(workflow.ID), workflow)
	})
}

// GetWorkflow returns the workflow with the given ID.
func (b *BoltDB) GetWorkflow(id int64) (*model.Workflow, error) {
	workflow := &model.Workflow{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(WorkflowBucket), idKey(id), workflow)
	})
	if err != nil {
		return nil, err
	}
	return workflow, nil
}

func putJSON(bucket *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bucket.Put(key, data)
}

func getJSON(bucket *bolt.Bucket, key []byte, v interface{}) error {
	data := bucket.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}
