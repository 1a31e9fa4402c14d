package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/storage/models"
	"github.com/schoolbot/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS unique_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		embedding BLOB NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_questions_created ON unique_questions(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertQuestion(ctx context.Context, q *models.UniqueQuestion) error {
	query := `INSERT INTO unique_questions (question, embedding, source, created_at, occurrence_count)
		VALUES (?, ?, ?, ?, 1)`

	res, err := c.db.ExecContext(ctx, query,
		q.Question,
		encodeVector(q.Embedding),
		q.Source,
		q.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}

	id, err := res.LastInsertId()
	if err == nil {
		q.ID = id
	}

	logger.Debug("Unique question stored",
		zap.Int64("id", q.ID),
		zap.String("source", q.Source),
	)
	return nil
}

// ListEmbeddings returns (id, embedding) pairs for every stored question in
// insertion order, for the deduplication scan.
func (c *Client) ListEmbeddings(ctx context.Context) ([]models.UniqueQuestion, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, embedding FROM unique_questions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	var questions []models.UniqueQuestion
	for rows.Next() {
		var q models.UniqueQuestion
		var blob []byte
		if err := rows.Scan(&q.ID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		q.Embedding, err = decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding for question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (c *Client) IncrementQuestionCount(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE unique_questions SET occurrence_count = occurrence_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment question count: %w", err)
	}
	return nil
}

// ListQuestions returns all recorded questions newest-first.
func (c *Client) ListQuestions(ctx context.Context) ([]models.UniqueQuestion, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, question, source, created_at, occurrence_count
		 FROM unique_questions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.UniqueQuestion
	for rows.Next() {
		var q models.UniqueQuestion
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.Question, &q.Source, &createdAt, &q.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		q.CreatedAt = time.Unix(createdAt, 0)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (c *Client) GetQuestion(ctx context.Context, id int64) (*models.UniqueQuestion, error) {
	var q models.UniqueQuestion
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT id, question, source, created_at, occurrence_count
		 FROM unique_questions WHERE id = ?`, id).
		Scan(&q.ID, &q.Question, &q.Source, &createdAt, &q.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	q.CreatedAt = time.Unix(createdAt, 0)
	return &q, nil
}

// Embeddings are stored as little-endian float32 blobs.

func encodeVector(vec []float32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, err
	}
	return vec, nil
}
