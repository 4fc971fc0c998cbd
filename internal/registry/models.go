// Package registry manages versioned ML model descriptors. The engine never
// reads a mutable global: each request pins an immutable ModelSet snapshot so
// a mid-batch deployment cannot change which model scores two patients of the
// same batch.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
)

// ModelSet is an immutable view of the registry for one model type: the
// single active version plus any shadow/canary versions evaluated alongside
// it for comparison without influencing returned results.
type ModelSet struct {
	Active  *domain.MLModel
	Shadows []domain.MLModel
}

// Registry holds the deployed model versions per model type.
type Registry struct {
	mu     sync.RWMutex
	models map[string][]domain.MLModel
	log    *logrus.Logger
}

// New creates an empty model registry.
func New(logger *logrus.Logger) *Registry {
	return &Registry{
		models: make(map[string][]domain.MLModel),
		log:    logger,
	}
}

// Register adds or replaces a model version. Registering an active version
// demotes the previously active version of the same type to deprecated;
// exactly one active model per type holds at any instant.
func (r *Registry) Register(model domain.MLModel) error {
	if err := model.Validate(); err != nil {
		return fmt.Errorf("registering model: %w", err)
	}
	if model.DeployedAt.IsZero() {
		model.DeployedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.models[model.ModelType]
	replaced := false
	for i := range versions {
		if versions[i].Version == model.Version {
			versions[i] = model
			replaced = true
			continue
		}
		if model.Status == domain.ModelActive && versions[i].Status == domain.ModelActive {
			versions[i].Status = domain.ModelDeprecated
			r.log.WithFields(logrus.Fields{
				"model_type": model.ModelType,
				"version":    versions[i].Version,
			}).Info("Previously active model deprecated")
		}
	}
	if !replaced {
		versions = append(versions, model)
	}
	r.models[model.ModelType] = versions

	r.log.WithFields(logrus.Fields{
		"model_type": model.ModelType,
		"version":    model.Version,
		"status":     model.Status.String(),
	}).Info("Model version registered")
	return nil
}

// Pin returns the immutable model set for a model type as of now. Callers
// hold onto the returned set for the duration of a request or batch.
func (r *Registry) Pin(modelType string) (*ModelSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[modelType]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("model type %q: %w", modelType, domain.ErrModelUnavailable)
	}

	set := &ModelSet{}
	for i := range versions {
		switch versions[i].Status {
		case domain.ModelActive:
			m := versions[i]
			set.Active = &m
		case domain.ModelShadow, domain.ModelCanary:
			set.Shadows = append(set.Shadows, versions[i])
		}
	}
	if set.Active == nil {
		return nil, fmt.Errorf("model type %q has no active version: %w", modelType, domain.ErrModelUnavailable)
	}
	return set, nil
}

// Lookup returns one registered model version.
func (r *Registry) Lookup(modelType, version string) (*domain.MLModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models[modelType] {
		if m.Version == version {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("model %s/%s: %w", modelType, version, domain.ErrNotFound)
}

// Versions lists all registered versions for a model type.
func (r *Registry) Versions(modelType string) []domain.MLModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.MLModel(nil), r.models[modelType]...)
}
