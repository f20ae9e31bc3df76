package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelsec/kestrel-correlate/internal/behavioral"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// SaveBaseline upserts an entity baseline.
func (r *PostgresRepository) SaveBaseline(ctx context.Context, b *behavioral.Baseline) error {
	patterns, err := json.Marshal(b.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline patterns: %w", err)
	}

	query := `
		INSERT INTO baselines (entity_id, entity_type, patterns, confidence, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id) DO UPDATE SET
			patterns = EXCLUDED.patterns,
			confidence = EXCLUDED.confidence,
			last_updated = EXCLUDED.last_updated
	`
	_, err = r.pool.Exec(ctx, query,
		b.EntityID, string(b.EntityType), patterns, b.Confidence, b.CreatedAt, b.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

// SaveEdge upserts a correlation edge.
func (r *PostgresRepository) SaveEdge(ctx context.Context, e model.CorrelationEdge) error {
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal edge evidence: %w", err)
	}

	query := `
		INSERT INTO edges (source_id, target_id, rel_type, strength, confidence, evidence, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id, target_id, rel_type) DO UPDATE SET
			strength = EXCLUDED.strength,
			confidence = EXCLUDED.confidence,
			evidence = EXCLUDED.evidence,
			last_seen = EXCLUDED.last_seen
	`
	_, err = r.pool.Exec(ctx, query,
		e.SourceID, e.TargetID, string(e.Type), e.Strength, e.Confidence, evidence, e.FirstSeen, e.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to save edge: %w", err)
	}
	return nil
}

// SaveRule upserts a detection rule with its feedback counters.
func (r *PostgresRepository) SaveRule(ctx context.Context, rule *model.DetectionRule) error {
	techniques, err := json.Marshal(rule.MitreTechniques)
	if err != nil {
		return fmt.Errorf("failed to marshal rule techniques: %w", err)
	}

	query := `
		INSERT INTO rules (id, name, description, severity, techniques, enabled,
			true_positives, false_positives, accuracy, "precision", created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			severity = EXCLUDED.severity,
			techniques = EXCLUDED.techniques,
			enabled = EXCLUDED.enabled,
			true_positives = EXCLUDED.true_positives,
			false_positives = EXCLUDED.false_positives,
			accuracy = EXCLUDED.accuracy,
			"precision" = EXCLUDED."precision",
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Severity, techniques, rule.Enabled,
		rule.TruePositives, rule.FalsePositives, rule.Accuracy, rule.Precision,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// SaveRecommendation inserts a generated recommendation.
func (r *PostgresRepository) SaveRecommendation(ctx context.Context, rec *model.Recommendation) error {
	techniques, err := json.Marshal(rec.Techniques)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation techniques: %w", err)
	}

	query := `
		INSERT INTO recommendations (id, event_id, title, description, techniques, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.EventID, rec.Title, rec.Description, techniques, rec.Confidence, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save recommendation: %w", err)
	}
	return nil
}

// LoadBaselines restores all persisted baselines.
func (r *PostgresRepository) LoadBaselines(ctx context.Context) ([]*behavioral.Baseline, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT entity_id, entity_type, patterns, confidence, created_at, last_updated FROM baselines`)
	if err != nil {
		return nil, fmt.Errorf("failed to load baselines: %w", err)
	}
	defer rows.Close()

	var out []*behavioral.Baseline
	for rows.Next() {
		var (
			b           behavioral.Baseline
			entityType  string
			patternsRaw []byte
		)
		if err := rows.Scan(&b.EntityID, &entityType, &patternsRaw, &b.Confidence, &b.CreatedAt, &b.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		b.EntityType = model.EntityType(entityType)
		if err := json.Unmarshal(patternsRaw, &b.Patterns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal baseline patterns: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// LoadEdges restores all persisted edges.
func (r *PostgresRepository) LoadEdges(ctx context.Context) ([]model.CorrelationEdge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT source_id, target_id, rel_type, strength, confidence, evidence, first_seen, last_seen FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	defer rows.Close()

	var out []model.CorrelationEdge
	for rows.Next() {
		var (
			e           model.CorrelationEdge
			relType     string
			evidenceRaw []byte
		)
		if err := rows.Scan(&e.SourceID, &e.TargetID, &relType, &e.Strength, &e.Confidence, &evidenceRaw, &e.FirstSeen, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Type = model.RelationshipType(relType)
		if err := json.Unmarshal(evidenceRaw, &e.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge evidence: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadRules restores all persisted rules.
func (r *PostgresRepository) LoadRules(ctx context.Context) ([]*model.DetectionRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, severity, techniques, enabled,
			true_positives, false_positives, accuracy, "precision", created_at, updated_at
		 FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var out []*model.DetectionRule
	for rows.Next() {
		var (
			rule          model.DetectionRule
			techniquesRaw []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Severity, &techniquesRaw,
			&rule.Enabled, &rule.TruePositives, &rule.FalsePositives, &rule.Accuracy, &rule.Precision,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal(techniquesRaw, &rule.MitreTechniques); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule techniques: %w", err)
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}
