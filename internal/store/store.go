// ABOUTME: Store interfaces and types for the edge credential store.
// ABOUTME: Projects and their provisioned credential pairs live here.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/oakhq/oak-relay/internal/auth"
)

// Store errors
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectExists   = errors.New("project already exists")
)

// Project is one provisioned project with its credential pair.
type Project struct {
	ID          string
	Credentials auth.Credentials
	CreatedAt   time.Time
	RotatedAt   time.Time
}

// Store provides access to provisioned projects. The provisioning command
// writes, the edge relay reads; both go through this interface.
type Store interface {
	CreateProject(ctx context.Context, id string, creds auth.Credentials) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	RotateCredentials(ctx context.Context, id string, creds auth.Credentials) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	Close() error
}
