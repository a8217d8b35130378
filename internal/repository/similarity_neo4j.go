package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/temcen/cinerank/pkg/models"
)

// SimilarityRepository stores similarity records as relationships in Neo4j:
// (:User)-[:SIMILAR_TO]->(:User) and (:Movie)-[:SIMILAR_CONTENT]->(:Movie).
// A pair is stored once, from the lower to the higher identifier, and carries
// one relationship per algorithm.
type SimilarityRepository struct {
	driver neo4j.DriverWithContext
}

func NewSimilarityRepository(driver neo4j.DriverWithContext) *SimilarityRepository {
	return &SimilarityRepository{driver: driver}
}

const (
	upsertUserSimilarityCypher = `
		UNWIND $rows AS r
		MERGE (a:User {user_id: r.user_a})
		MERGE (b:User {user_id: r.user_b})
		MERGE (a)-[s:SIMILAR_TO {algorithm: r.algorithm}]->(b)
		SET s.score = r.score, s.computed_at = r.computed_at`

	upsertMovieSimilarityCypher = `
		UNWIND $rows AS r
		MERGE (a:Movie {movie_id: r.movie_a})
		MERGE (b:Movie {movie_id: r.movie_b})
		MERGE (a)-[s:SIMILAR_CONTENT {algorithm: r.algorithm}]->(b)
		SET s.score = r.score, s.computed_at = r.computed_at`

	pruneUserSimilarityCypher = `
		MATCH (:User)-[s:SIMILAR_TO {algorithm: $algorithm}]->(:User)
		WHERE s.computed_at < $before
		DELETE s`

	pruneMovieSimilarityCypher = `
		MATCH (:Movie)-[s:SIMILAR_CONTENT {algorithm: $algorithm}]->(:Movie)
		WHERE s.computed_at < $before
		DELETE s`

	deleteUserSimilarityCypher = `
		MATCH (:User)-[s:SIMILAR_TO]->(:User)
		WHERE s.computed_at < $cutoff
		DELETE s`

	deleteMovieSimilarityCypher = `
		MATCH (:Movie)-[s:SIMILAR_CONTENT]->(:Movie)
		WHERE s.computed_at < $cutoff
		DELETE s`
)

// EnsureConstraints creates the uniqueness constraints the MERGE statements rely on.
func (r *SimilarityRepository) EnsureConstraints(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, cypher := range []string{
		`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.user_id IS UNIQUE`,
		`CREATE CONSTRAINT movie_id_unique IF NOT EXISTS FOR (m:Movie) REQUIRE m.movie_id IS UNIQUE`,
	} {
		result, err := session.Run(ctx, cypher, nil)
		if err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

func (r *SimilarityRepository) UpsertUserSimilarities(ctx context.Context, records []models.UserSimilarityRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := r.write(ctx, upsertUserSimilarityCypher, map[string]any{"rows": userSimilarityRows(records)})
	if err != nil {
		return fmt.Errorf("failed to upsert user similarities: %w", err)
	}
	return nil
}

func (r *SimilarityRepository) UpsertMovieSimilarities(ctx context.Context, records []models.MovieSimilarityRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := r.write(ctx, upsertMovieSimilarityCypher, map[string]any{"rows": movieSimilarityRows(records)})
	if err != nil {
		return fmt.Errorf("failed to upsert movie similarities: %w", err)
	}
	return nil
}

func (r *SimilarityRepository) PruneUserSimilarities(ctx context.Context, algorithm string, before time.Time) (int, error) {
	deleted, err := r.write(ctx, pruneUserSimilarityCypher, map[string]any{"algorithm": algorithm, "before": before.UTC()})
	if err != nil {
		return 0, fmt.Errorf("failed to prune user similarities: %w", err)
	}
	return deleted, nil
}

func (r *SimilarityRepository) PruneMovieSimilarities(ctx context.Context, algorithm string, before time.Time) (int, error) {
	deleted, err := r.write(ctx, pruneMovieSimilarityCypher, map[string]any{"algorithm": algorithm, "before": before.UTC()})
	if err != nil {
		return 0, fmt.Errorf("failed to prune movie similarities: %w", err)
	}
	return deleted, nil
}

func (r *SimilarityRepository) DeleteUserSimilaritiesOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := r.write(ctx, deleteUserSimilarityCypher, map[string]any{"cutoff": cutoff.UTC()})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale user similarities: %w", err)
	}
	return deleted, nil
}

func (r *SimilarityRepository) DeleteMovieSimilaritiesOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := r.write(ctx, deleteMovieSimilarityCypher, map[string]any{"cutoff": cutoff.UTC()})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale movie similarities: %w", err)
	}
	return deleted, nil
}

// write runs cypher in a managed write transaction and returns the number of
// deleted relationships.
func (r *SimilarityRepository) write(ctx context.Context, cypher string, params map[string]any) (int, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	counters, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters(), nil
	})
	if err != nil {
		return 0, err
	}
	return counters.(neo4j.Counters).RelationshipsDeleted(), nil
}

func userSimilarityRows(records []models.UserSimilarityRecord) []map[string]any {
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = map[string]any{
			"user_a":      rec.UserA.String(),
			"user_b":      rec.UserB.String(),
			"score":       rec.Score,
			"algorithm":   rec.Algorithm,
			"computed_at": rec.ComputedAt.UTC(),
		}
	}
	return rows
}

func movieSimilarityRows(records []models.MovieSimilarityRecord) []map[string]any {
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = map[string]any{
			"movie_a":     rec.MovieA,
			"movie_b":     rec.MovieB,
			"score":       rec.Score,
			"algorithm":   rec.Algorithm,
			"computed_at": rec.ComputedAt.UTC(),
		}
	}
	return rows
}
