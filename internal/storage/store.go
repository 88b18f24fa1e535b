package storage

import (
	"context"

	"likeness/internal/model"
)

// Store persists the artifacts a search run leaves behind: session
// summaries, knowledge snapshots and per-session score histories.
type Store interface {
	Init(ctx context.Context) error
	SaveSessionSummary(ctx context.Context, summary model.SessionSummary) error
	GetSessionSummary(ctx context.Context, id string) (model.SessionSummary, bool, error)
	ListSessionSummaries(ctx context.Context) ([]model.SessionSummary, error)
	SaveKnowledgeSnapshot(ctx context.Context, snapshot model.KnowledgeSnapshot) error
	GetKnowledgeSnapshot(ctx context.Context, id string) (model.KnowledgeSnapshot, bool, error)
	LatestKnowledgeSnapshot(ctx context.Context) (model.KnowledgeSnapshot, bool, error)
	SaveScoreHistory(ctx context.Context, sessionID string, history []float64) error
	GetScoreHistory(ctx context.Context, sessionID string) ([]float64, bool, error)
}
