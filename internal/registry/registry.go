// Package registry persists fitted models as artifacts: a JSON model blob plus
// a model card carrying the training metadata and the blob's SHA-256.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fractal-lba/salesforecast/internal/gbt"
)

var (
	// ErrNotFound is returned when no artifact exists under the requested name.
	ErrNotFound = errors.New("model artifact not found")
	// ErrIntegrity is returned when a stored blob does not match its card.
	ErrIntegrity = errors.New("model artifact integrity check failed")
)

// Artifact names used by the pipeline.
const (
	TrainedName = "gbt_model"
	TunedName   = "gbt_model_best_grid"
)

// ModelCard documents one artifact
type ModelCard struct {
	Name           string      `json:"name"`
	ModelType      string      `json:"model_type"`
	RunID          string      `json:"run_id,omitempty"`
	TrainedAt      time.Time   `json:"trained_at"`
	Params         gbt.Params  `json:"params"`
	ValidationRMSE float64     `json:"validation_rmse"`
	FeatureColumns []string    `json:"feature_columns"` // Matrix order the model was fitted on
	Categories     []string    `json:"categories"`      // Store types, reference first
	Dataset        DatasetInfo `json:"dataset"`
	BinaryHash     string      `json:"binary_sha256"`
}

// DatasetInfo describes the training data
type DatasetInfo struct {
	NumRows     int    `json:"num_rows"`
	TrainRows   int    `json:"train_rows"`
	ValidRows   int    `json:"valid_rows"`
	DatasetHash string `json:"dataset_hash"`
}

// Artifact is a fitted model and its card. Artifacts are never mutated after Save.
type Artifact struct {
	Model *gbt.Model
	Card  *ModelCard
}

// Registry stores artifacts in a flat directory
type Registry struct {
	dir string
}

// New creates a registry rooted at dir. The directory is created on first Save.
func New(dir string) *Registry {
	return &Registry{dir: dir}
}

// ModelPath returns the blob path of an artifact.
func (r *Registry) ModelPath(name string) string {
	return filepath.Join(r.dir, name+".json")
}

// CardPath returns the card path of an artifact.
func (r *Registry) CardPath(name string) string {
	return filepath.Join(r.dir, name+".card.json")
}

// Save writes the artifact under name, replacing any previous one, and returns
// the blob hash. The card's Name and BinaryHash are filled in.
func (r *Registry) Save(name string, a *Artifact) (string, error) {
	if a.Model == nil || a.Card == nil {
		return "", fmt.Errorf("artifact %s is missing its model or card", name)
	}
	if len(a.Card.FeatureColumns) != a.Model.NumFeatures {
		return "", fmt.Errorf("artifact %s: card lists %d columns, model has %d features",
			name, len(a.Card.FeatureColumns), a.Model.NumFeatures)
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create registry dir: %w", err)
	}

	blob, err := json.Marshal(a.Model)
	if err != nil {
		return "", fmt.Errorf("failed to serialize model: %w", err)
	}
	hash := sha256.Sum256(blob)
	binaryHash := hex.EncodeToString(hash[:])

	card := *a.Card
	card.Name = name
	card.BinaryHash = binaryHash
	if card.ModelType == "" {
		card.ModelType = "gbt"
	}
	cardData, err := json.MarshalIndent(&card, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize model card: %w", err)
	}

	// Blob first: a card never points at a blob that is not on disk yet.
	if err := writeFileAtomic(r.ModelPath(name), blob); err != nil {
		return "", fmt.Errorf("failed to write model blob: %w", err)
	}
	if err := writeFileAtomic(r.CardPath(name), append(cardData, '\n')); err != nil {
		return "", fmt.Errorf("failed to write model card: %w", err)
	}

	*a.Card = card
	return binaryHash, nil
}

// Load reads and verifies the artifact stored under name.
func (r *Registry) Load(name string) (*Artifact, error) {
	cardData, err := os.ReadFile(r.CardPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, r.CardPath(name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model card: %w", err)
	}
	var card ModelCard
	if err := json.Unmarshal(cardData, &card); err != nil {
		return nil, fmt.Errorf("%w: card %s: %v", ErrIntegrity, name, err)
	}

	blob, err := os.ReadFile(r.ModelPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, r.ModelPath(name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model blob: %w", err)
	}

	hash := sha256.Sum256(blob)
	if got := hex.EncodeToString(hash[:]); got != card.BinaryHash {
		return nil, fmt.Errorf("%w: %s sha256 %s, card records %s", ErrIntegrity, name, got, card.BinaryHash)
	}

	var model gbt.Model
	if err := json.Unmarshal(blob, &model); err != nil {
		return nil, fmt.Errorf("%w: blob %s: %v", ErrIntegrity, name, err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(card.FeatureColumns) != model.NumFeatures {
		return nil, fmt.Errorf("%w: card lists %d columns, model has %d features",
			ErrIntegrity, len(card.FeatureColumns), model.NumFeatures)
	}

	return &Artifact{Model: &model, Card: &card}, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
