// Package uuid generates node and crawl-run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues UUIDv7 values so node ids sort by creation time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewNodeID returns a fresh node primary key.
func (Generator) NewNodeID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate node id: %w", err)
	}
	return id, nil
}

// NewRunID returns a string id attached to every log line and notification of one crawl run.
func (g Generator) NewRunID() (string, error) {
	id, err := g.NewNodeID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
