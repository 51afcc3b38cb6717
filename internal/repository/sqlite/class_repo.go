package sqlite

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/repository"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const classColumns = `id, title, trainer, description, date, time, duration,
	capacity, occupied_seats, status, created_at, updated_at`

type classRepository struct {
	store *DB
}

// NewClassRepository creates a FitnessClass repository backed by SQLite.
func NewClassRepository(store *DB) repository.ClassRepository {
	return &classRepository{store: store}
}

func (r *classRepository) Create(ctx context.Context, class *domain.FitnessClass) (primitive.ObjectID, error) {
	if class.Title == "" || class.Capacity < domain.MinClassCapacity {
		return primitive.NilObjectID, errors.New("class title and a positive capacity are required")
	}

	class.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now
	class.OccupiedSeats = 0
	if class.Status == "" {
		class.Status = domain.ClassActive
	}

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO classes (`+classColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		class.ID.Hex(), class.Title, class.Trainer, class.Description,
		formatTime(class.Date), class.Time, class.Duration,
		class.Capacity, class.OccupiedSeats, string(class.Status),
		formatTime(class.CreatedAt), formatTime(class.UpdatedAt),
	)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("insert class: %w", err)
	}
	return class.ID, nil
}

func (r *classRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE id = ?`, id.Hex())
	class, err := scanClass(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return class, nil
}

func (r *classRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.FitnessClass, error) {
	if len(ids) == 0 {
		return []domain.FitnessClass{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.Hex()
	}
	query := `SELECT ` + classColumns + ` FROM classes WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	return r.query(ctx, query, args...)
}

// List returns active classes ordered by date then time.
func (r *classRepository) List(ctx context.Context, filter domain.ClassFilter, now time.Time) ([]domain.FitnessClass, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE status = ?`
	args := []any{string(domain.ClassActive)}
	switch filter {
	case domain.FilterUpcoming:
		query += ` AND date >= ?`
		args = append(args, formatTime(now))
	case domain.FilterPast:
		query += ` AND date < ?`
		args = append(args, formatTime(now))
	}
	query += ` ORDER BY date ASC, time ASC`
	return r.query(ctx, query, args...)
}

func (r *classRepository) ListIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, `SELECT id FROM classes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []primitive.ObjectID{}
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, err
		}
		id, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			return nil, fmt.Errorf("parse class id %q: %w", hex, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateDetails writes staff-editable fields. occupied_seats and status are left alone.
func (r *classRepository) UpdateDetails(ctx context.Context, class *domain.FitnessClass) error {
	if class.ID == primitive.NilObjectID {
		return errors.New("class ID is required for update")
	}
	class.UpdatedAt = time.Now().UTC()
	result, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE classes
		SET title = ?, trainer = ?, description = ?, date = ?, time = ?,
			duration = ?, capacity = ?, updated_at = ?
		WHERE id = ?`,
		class.Title, class.Trainer, class.Description, formatTime(class.Date), class.Time,
		class.Duration, class.Capacity, formatTime(class.UpdatedAt),
		class.ID.Hex(),
	)
	if err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return requireAffected(result, repository.ErrNotFound)
}

func (r *classRepository) Cancel(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.store.conn(ctx).ExecContext(ctx,
		`UPDATE classes SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(domain.ClassCancelled), formatTime(time.Now()), id.Hex(), string(domain.ClassActive),
	)
	if err != nil {
		return err
	}
	return requireAffected(result, repository.ErrNotFound)
}

// AdjustOccupancy applies delta only when the result stays within [0, capacity].
// Increments additionally require an active class.
func (r *classRepository) AdjustOccupancy(ctx context.Context, id primitive.ObjectID, delta int) error {
	query := `
		UPDATE classes
		SET occupied_seats = occupied_seats + ?, updated_at = ?
		WHERE id = ? AND occupied_seats + ? BETWEEN 0 AND capacity`
	args := []any{delta, formatTime(time.Now()), id.Hex(), delta}
	if delta > 0 {
		query += ` AND status = ?`
		args = append(args, string(domain.ClassActive))
	}

	result, err := r.store.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if err := requireAffected(result, repository.ErrOccupancyBounds); err != nil {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return err
	}
	return nil
}

// SetOccupancy overwrites the ledger with a recounted value.
func (r *classRepository) SetOccupancy(ctx context.Context, id primitive.ObjectID, value int) error {
	if value < 0 {
		return repository.ErrOccupancyBounds
	}
	result, err := r.store.conn(ctx).ExecContext(ctx,
		`UPDATE classes SET occupied_seats = ?, updated_at = ? WHERE id = ? AND ? <= capacity`,
		value, formatTime(time.Now()), id.Hex(), value,
	)
	if err != nil {
		return err
	}
	if err := requireAffected(result, repository.ErrNotFound); err != nil {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return repository.ErrOccupancyBounds
	}
	return nil
}

func (r *classRepository) Stats(ctx context.Context) (int, int, error) {
	var classes, capacity int
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(capacity), 0) FROM classes WHERE status = ?`,
		string(domain.ClassActive),
	).Scan(&classes, &capacity)
	if err != nil {
		return 0, 0, err
	}
	return classes, capacity, nil
}

func (r *classRepository) query(ctx context.Context, query string, args ...any) ([]domain.FitnessClass, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	classes := []domain.FitnessClass{}
	for rows.Next() {
		class, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, *class)
	}
	return classes, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanClass(s scanner) (*domain.FitnessClass, error) {
	var (
		class                      domain.FitnessClass
		id, status                 string
		date, createdAt, updatedAt string
	)
	err := s.Scan(&id, &class.Title, &class.Trainer, &class.Description,
		&date, &class.Time, &class.Duration,
		&class.Capacity, &class.OccupiedSeats, &status,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if class.ID, err = primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("parse class id %q: %w", id, err)
	}
	if class.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if class.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if class.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	class.Status = domain.ClassStatus(status)
	return &class, nil
}

// requireAffected returns notMatched when the statement changed no rows.
func requireAffected(result sql.Result, notMatched error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notMatched
	}
	return nil
}
