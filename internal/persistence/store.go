package persistence

import (
	"context"
	"errors"

	"github.com/breakly/tagflow/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrGroupNotFound is returned when an event group is not found or has
	// been deleted.
	ErrGroupNotFound = errors.New("event group not found")

	// ErrEventNotFound is returned when an event is not found or has been
	// deleted.
	ErrEventNotFound = errors.New("event not found")
)

// GraphStore handles storage of workflow definitions. Definitions are
// authored upstream; tagflow only registers and reads them.
type GraphStore interface {
	SaveWorkflow(wf api.Workflow) error
	GetWorkflow(id string) (api.Workflow, error)
	// ListWorkflows returns the workflows scoped to a collection, or all
	// workflows when collectionID is empty.
	ListWorkflows(collectionID string) ([]api.Workflow, error)
}

// GroupFilter selects event groups from the store. Empty fields mean
// "no filter".
type GroupFilter struct {
	BreakdownID string
	WorkflowID  string
}

// GroupStore is the persistence boundary for committed event groups.
//
// CreateGroup must be atomic: either the group and all of its events are
// persisted, or nothing is. When idempotencyKey is non-empty and a group
// was already created under that key, implementations return the stored
// group instead of creating a duplicate.
//
// Deleted groups and events are soft-deleted: they keep their rows but are
// never returned by Get/List.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *api.EventGroup, idempotencyKey string) (*api.EventGroup, error)
	GetGroup(ctx context.Context, id string) (*api.EventGroup, error)
	ListGroups(ctx context.Context, filter GroupFilter) ([]*api.EventGroup, error)
	PatchGroup(ctx context.Context, id string, patch api.GroupPatch) (*api.EventGroup, error)
	PatchEvent(ctx context.Context, eventID string, patch api.EventPatch) (*api.Event, error)
	DeleteGroup(ctx context.Context, id string) error
}
