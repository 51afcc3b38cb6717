package sqlite

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/repository"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const reservationColumns = `id, member_id, class_id, status, created_at, updated_at`

type reservationRepository struct {
	store *DB
}

// NewReservationRepository creates a Reservation repository backed by SQLite.
func NewReservationRepository(store *DB) repository.ReservationRepository {
	return &reservationRepository{store: store}
}

// Create inserts a booked reservation. uniq_booked_member_class turns a
// duplicate into repository.ErrDuplicateKey.
func (r *reservationRepository) Create(ctx context.Context, reservation *domain.Reservation) (primitive.ObjectID, error) {
	if reservation.MemberID == primitive.NilObjectID || reservation.ClassID == primitive.NilObjectID {
		return primitive.NilObjectID, errors.New("reservation requires memberId and classId")
	}

	reservation.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	reservation.Status = domain.ReservationBooked

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		reservation.ID.Hex(), reservation.MemberID.Hex(), reservation.ClassID.Hex(),
		string(reservation.Status), formatTime(reservation.CreatedAt), formatTime(reservation.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return primitive.NilObjectID, repository.ErrDuplicateKey
		}
		return primitive.NilObjectID, fmt.Errorf("insert reservation: %w", err)
	}
	return reservation.ID, nil
}

func (r *reservationRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Reservation, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id.Hex())
	return scanReservationRow(row)
}

func (r *reservationRepository) FindBooked(ctx context.Context, memberID, classID primitive.ObjectID) (*domain.Reservation, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		WHERE member_id = ? AND class_id = ? AND status = ?`,
		memberID.Hex(), classID.Hex(), string(domain.ReservationBooked))
	return scanReservationRow(row)
}

// MarkCancelled flips booked to cancelled; a second call matches no row.
func (r *reservationRepository) MarkCancelled(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.store.conn(ctx).ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(domain.ReservationCancelled), formatTime(time.Now()), id.Hex(), string(domain.ReservationBooked),
	)
	if err != nil {
		return err
	}
	return requireAffected(result, repository.ErrUpdateFailed)
}

// ListByMember returns the member's history, newest first.
func (r *reservationRepository) ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]domain.Reservation, error) {
	return r.query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE member_id = ? ORDER BY created_at DESC, id DESC`, memberID.Hex())
}

// ListBookedByClass returns the current roster, oldest first.
func (r *reservationRepository) ListBookedByClass(ctx context.Context, classID primitive.ObjectID) ([]domain.Reservation, error) {
	return r.query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE class_id = ? AND status = ? ORDER BY created_at ASC, id ASC`,
		classID.Hex(), string(domain.ReservationBooked))
}

func (r *reservationRepository) CountBooked(ctx context.Context, classID primitive.ObjectID) (int, error) {
	var n int
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE class_id = ? AND status = ?`,
		classID.Hex(), string(domain.ReservationBooked)).Scan(&n)
	return n, err
}

func (r *reservationRepository) CountBookedInActiveClasses(ctx context.Context) (int, error) {
	var n int
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations r
		 JOIN classes c ON c.id = r.class_id
		 WHERE r.status = ? AND c.status = ?`,
		string(domain.ReservationBooked), string(domain.ClassActive)).Scan(&n)
	return n, err
}

func (r *reservationRepository) query(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reservations := []domain.Reservation{}
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, *reservation)
	}
	return reservations, rows.Err()
}

func scanReservationRow(row *sql.Row) (*domain.Reservation, error) {
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return reservation, nil
}

func scanReservation(s scanner) (*domain.Reservation, error) {
	var (
		reservation                  domain.Reservation
		id, memberID, classID        string
		status, createdAt, updatedAt string
	)
	if err := s.Scan(&id, &memberID, &classID, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if reservation.ID, err = primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("parse reservation id %q: %w", id, err)
	}
	if reservation.MemberID, err = primitive.ObjectIDFromHex(memberID); err != nil {
		return nil, fmt.Errorf("parse member id %q: %w", memberID, err)
	}
	if reservation.ClassID, err = primitive.ObjectIDFromHex(classID); err != nil {
		return nil, fmt.Errorf("parse class id %q: %w", classID, err)
	}
	if reservation.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if reservation.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	reservation.Status = domain.ReservationStatus(status)
	return &reservation, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
