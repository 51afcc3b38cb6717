package service

import (
	"alcyxob/fitness-booking/internal/repository"
	"alcyxob/fitness-booking/internal/storage"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RosterExport points at an uploaded roster CSV.
type RosterExport struct {
	ClassID     primitive.ObjectID `json:"classId"`
	ObjectKey   string             `json:"objectKey"`
	DownloadURL string             `json:"downloadUrl"`
	Rows        int                `json:"rows"`
	ExpiresAt   time.Time          `json:"expiresAt"`
}

// RosterService exports the booked roster of a class to object storage.
type RosterService interface {
	ExportRoster(ctx context.Context, classID primitive.ObjectID) (*RosterExport, error)
}

type rosterService struct {
	classRepo       repository.ClassRepository
	reservationRepo repository.ReservationRepository
	storage         storage.FileStorage // nil when s3 is disabled
	urlExpiry       time.Duration
}

func NewRosterService(
	classRepo repository.ClassRepository,
	reservationRepo repository.ReservationRepository,
	fileStorage storage.FileStorage,
	urlExpiry time.Duration,
) RosterService {
	if urlExpiry <= 0 {
		urlExpiry = storage.DefaultPresignedURLExpiry
	}
	return &rosterService{
		classRepo:       classRepo,
		reservationRepo: reservationRepo,
		storage:         fileStorage,
		urlExpiry:       urlExpiry,
	}
}

var rosterHeader = []string{"reservation_id", "member_id", "booked_at", "class_title", "class_date", "class_time"}

func (s *rosterService) ExportRoster(ctx context.Context, classID primitive.ObjectID) (*RosterExport, error) {
	if s.storage == nil {
		return nil, ErrExportDisabled
	}

	class, err := s.classRepo.GetByID(ctx, classID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrClassNotFound
		}
		return nil, err
	}
	reservations, err := s.reservationRepo.ListBookedByClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(rosterHeader); err != nil {
		return nil, err
	}
	for _, r := range reservations {
		row := []string{
			r.ID.Hex(),
			r.MemberID.Hex(),
			r.CreatedAt.UTC().Format(time.RFC3339),
			class.Title,
			class.Date.UTC().Format("2006-01-02"),
			class.Time,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write roster csv: %w", err)
	}

	key := fmt.Sprintf("rosters/%s/%s.csv", classID.Hex(), uuid.NewString())
	if err := s.storage.PutObject(ctx, key, "text/csv", &buf); err != nil {
		return nil, fmt.Errorf("upload roster: %w", err)
	}

	url, err := s.storage.GeneratePresignedDownloadURL(ctx, key, s.urlExpiry)
	if err != nil {
		// Don't leave an unreachable export behind
		if delErr := s.storage.DeleteObject(ctx, key); delErr != nil {
			log.Printf("WARN: Failed to remove roster %s after presign error: %v", key, delErr)
		}
		return nil, fmt.Errorf("presign roster: %w", err)
	}

	log.Printf("INFO: Exported roster for class %s (%d rows) to %s", classID.Hex(), len(reservations), key)
	return &RosterExport{
		ClassID:     classID,
		ObjectKey:   key,
		DownloadURL: url,
		Rows:        len(reservations),
		ExpiresAt:   time.Now().UTC().Add(s.urlExpiry),
	}, nil
}
