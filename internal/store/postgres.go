package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Questions ---

const questionColumns = `key, category, position, default_weight, weight, active,
	weight_updated_at, created_at, updated_at`

func (s *PostgresStore) UpsertQuestion(ctx context.Context, q *Question) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO questions (key, category, position, default_weight, weight, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			category = EXCLUDED.category,
			position = EXCLUDED.position,
			default_weight = EXCLUDED.default_weight,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING weight, created_at, updated_at`,
		q.Key, q.Category, q.Position, q.DefaultWeight, q.Weight, q.Active,
	).Scan(&q.Weight, &q.CreatedAt, &q.UpdatedAt)
}

func (s *PostgresStore) ListQuestions(ctx context.Context, activeOnly bool) ([]*Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY position ASC, key ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []*Question
	for rows.Next() {
		q := &Question{}
		if err := rows.Scan(
			&q.Key, &q.Category, &q.Position, &q.DefaultWeight, &q.Weight, &q.Active,
			&q.WeightUpdatedAt, &q.CreatedAt, &q.UpdatedAt,
		); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UpdateQuestionWeight swaps a single question's weight; each call is its own statement
// so one failing question never rolls back the others.
func (s *PostgresStore) UpdateQuestionWeight(ctx context.Context, key string, weight float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET weight = $2, weight_updated_at = NOW(), updated_at = NOW()
		WHERE key = $1`, key, weight)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) WeightsVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM weights_state WHERE id = 1`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *PostgresStore) NextWeightsVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO weights_state (id, version) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET version = weights_state.version + 1, updated_at = NOW()
		RETURNING version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next weights version: %w", err)
	}
	return v, nil
}

// --- Importance ratings ---

func (s *PostgresStore) UpsertImportanceRatings(ctx context.Context, userID string, ratings []ImportanceRating) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, r := range ratings {
		batch.Queue(`
			INSERT INTO importance_ratings (user_id, question_key, importance)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, question_key) DO UPDATE SET
				importance = EXCLUDED.importance, updated_at = NOW()`,
			userID, r.QuestionKey, r.Importance,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for _, r := range ratings {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert rating %q: %w", r.QuestionKey, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListImportanceRatings(ctx context.Context) ([]ImportanceRating, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, question_key, importance, updated_at
		FROM importance_ratings
		ORDER BY user_id ASC, question_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []ImportanceRating
	for rows.Next() {
		var r ImportanceRating
		if err := rows.Scan(&r.UserID, &r.QuestionKey, &r.Importance, &r.UpdatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}

// --- Results ---

const resultColumns = `id, user_id, answers, weights, question_categories, weights_version,
	total_score, category_scores, unlocked, unlocked_at, created_at`

func (s *PostgresStore) CreateResult(ctx context.Context, r *Result) error {
	answersJSON, _ := json.Marshal(r.Answers)
	weightsJSON, _ := json.Marshal(r.Weights)
	categoriesJSON, _ := json.Marshal(r.QuestionCategories)
	scoresJSON, _ := json.Marshal(r.CategoryScores)

	return s.pool.QueryRow(ctx, `
		INSERT INTO results (user_id, answers, weights, question_categories, weights_version,
			total_score, category_scores)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, unlocked, created_at`,
		r.UserID, answersJSON, weightsJSON, categoriesJSON, r.WeightsVersion,
		r.TotalScore, scoresJSON,
	).Scan(&r.ID, &r.Unlocked, &r.CreatedAt)
}

func (s *PostgresStore) GetResult(ctx context.Context, id uuid.UUID) (*Result, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM results WHERE id = $1`, id)
	r, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]*Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.UserID != "" {
		n++
		query += fmt.Sprintf(" AND user_id = $%d", n)
		args = append(args, filter.UserID)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanResult(row pgx.Row) (*Result, error) {
	r := &Result{}
	var answersJSON, weightsJSON, categoriesJSON, scoresJSON []byte
	if err := row.Scan(
		&r.ID, &r.UserID, &answersJSON, &weightsJSON, &categoriesJSON, &r.WeightsVersion,
		&r.TotalScore, &scoresJSON, &r.Unlocked, &r.UnlockedAt, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if answersJSON != nil {
		_ = json.Unmarshal(answersJSON, &r.Answers)
	}
	if weightsJSON != nil {
		_ = json.Unmarshal(weightsJSON, &r.Weights)
	}
	if categoriesJSON != nil {
		_ = json.Unmarshal(categoriesJSON, &r.QuestionCategories)
	}
	if scoresJSON != nil {
		_ = json.Unmarshal(scoresJSON, &r.CategoryScores)
	}
	return r, nil
}
