package vault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors a Store implementation returns for CreateProject
// conflicts and missed lookups. CreateStoredApiKey upserts on
// (ProjectID, Name, Environment) and does not return ErrAlreadyExists.
var (
	ErrNotFound      = errors.New("vault: not found")
	ErrAlreadyExists = errors.New("vault: already exists")
)

// Project owns many StoredApiKeys and belongs to an organization with
// team-member access control (spec.md §3).
type Project struct {
	ID             string
	OrganizationID string
	Name           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Environment scopes a StoredApiKey within its project, e.g. so a project
// can hold distinct sandbox and production values for the same third-party
// service under the same Name.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

// StoredApiKey is a third-party credential the user entrusts to the
// service for later programmatic use. Unique by (ProjectID, Name,
// Environment) (spec.md §3). EncryptedValue is ciphertext; callers never
// see it decrypted except through Store.Reveal.
type StoredApiKey struct {
	ID             string
	ProjectID      string
	Name           string
	Environment    Environment
	EncryptedValue string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is the persistence contract for Project and StoredApiKey, kept
// separate from internal/store.Store because this data class has different
// ownership (user-entrusted third-party secrets, not gateway-issued
// credentials) even though both live in the same primary database.
type Store interface {
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjectsByOrganization(ctx context.Context, organizationID string) ([]Project, error)
	// DeleteProject removes the project and cascades to every StoredApiKey
	// under it (spec.md §4.5: "deleting a project cascades").
	DeleteProject(ctx context.Context, id string) error

	CreateStoredApiKey(ctx context.Context, k StoredApiKey) error
	GetStoredApiKey(ctx context.Context, id string) (StoredApiKey, error)
	FindStoredApiKey(ctx context.Context, projectID, name string, env Environment) (StoredApiKey, error)
	ListStoredApiKeysByProject(ctx context.Context, projectID string) ([]StoredApiKey, error)
	DeleteStoredApiKey(ctx context.Context, id string) error
}

// Vault is the application-facing API: it encrypts on write and decrypts on
// Reveal, so Store implementations never have to know about Encryptor.
type Vault struct {
	store     Store
	encryptor Encryptor
}

// New builds a Vault.
func New(store Store, encryptor Encryptor) *Vault {
	return &Vault{store: store, encryptor: encryptor}
}

// Put encrypts plaintext and upserts a StoredApiKey under (projectID, name,
// env).
func (v *Vault) Put(ctx context.Context, k StoredApiKey, plaintext string) error {
	ciphertext, err := v.encryptor.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("vault: put %s/%s: %w", k.ProjectID, k.Name, err)
	}
	k.EncryptedValue = ciphertext
	return v.store.CreateStoredApiKey(ctx, k)
}

// Reveal decrypts and returns the plaintext value of the key identified by
// (projectID, name, env). Callers must have already authorized the
// requester against the project's team-member access control; Vault itself
// performs no authorization.
func (v *Vault) Reveal(ctx context.Context, projectID, name string, env Environment) (string, error) {
	k, err := v.store.FindStoredApiKey(ctx, projectID, name, env)
	if err != nil {
		return "", err
	}
	return v.encryptor.Decrypt(k.EncryptedValue)
}

// CreateProject creates a new project owning StoredApiKeys.
func (v *Vault) CreateProject(ctx context.Context, p Project) error {
	return v.store.CreateProject(ctx, p)
}

// GetProject returns a single project by ID.
func (v *Vault) GetProject(ctx context.Context, id string) (Project, error) {
	return v.store.GetProject(ctx, id)
}

// ListProjects lists every project owned by organizationID.
func (v *Vault) ListProjects(ctx context.Context, organizationID string) ([]Project, error) {
	return v.store.ListProjectsByOrganization(ctx, organizationID)
}

// DeleteProject removes a project and cascades to every StoredApiKey under
// it (spec.md §4.5).
func (v *Vault) DeleteProject(ctx context.Context, id string) error {
	return v.store.DeleteProject(ctx, id)
}

// ListStoredApiKeys lists the (non-decrypted) metadata of every StoredApiKey
// under a project, for the listing endpoint (which never returns decrypted
// values — only Reveal does).
func (v *Vault) ListStoredApiKeys(ctx context.Context, projectID string) ([]StoredApiKey, error) {
	return v.store.ListStoredApiKeysByProject(ctx, projectID)
}

// DeleteStoredApiKey removes a single StoredApiKey by ID.
func (v *Vault) DeleteStoredApiKey(ctx context.Context, id string) error {
	return v.store.DeleteStoredApiKey(ctx, id)
}
