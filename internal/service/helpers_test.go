package service

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/events"
	"alcyxob/fitness-booking/internal/lock"
	"alcyxob/fitness-booking/internal/repository"
	"alcyxob/fitness-booking/internal/repository/sqlite"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store        *sqlite.DB
	classes      repository.ClassRepository
	reservations repository.ReservationRepository
	publisher    *recordingPublisher
	booking      BookingService
	catalog      ClassService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:        store,
		classes:      sqlite.NewClassRepository(store),
		reservations: sqlite.NewReservationRepository(store),
		publisher:    &recordingPublisher{},
	}
	locker := lock.NewKeyedMutex(0)
	f.booking = NewBookingService(f.classes, f.reservations, store, locker, f.publisher)
	f.catalog = NewClassService(f.classes, f.reservations, locker, f.publisher, nil)
	return f
}

func (f *fixture) class(t *testing.T, capacity int, date time.Time) *domain.FitnessClass {
	t.Helper()
	class := &domain.FitnessClass{
		Title:       "HIIT",
		Trainer:     "Sam",
		Description: "High intensity intervals",
		Date:        date,
		Time:        "07:00",
		Duration:    30,
		Capacity:    capacity,
	}
	_, err := f.classes.Create(context.Background(), class)
	require.NoError(t, err)
	return class
}

func (f *fixture) occupied(t *testing.T, classID primitive.ObjectID) int {
	t.Helper()
	class, err := f.classes.GetByID(context.Background(), classID)
	require.NoError(t, err)
	return class.OccupiedSeats
}

func (f *fixture) booked(t *testing.T, classID primitive.ObjectID) int {
	t.Helper()
	n, err := f.reservations.CountBooked(context.Background(), classID)
	require.NoError(t, err)
	return n
}

// blockingPublisher holds every Publish until release is closed.
type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ events.Event) error {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *blockingPublisher) Close() error { return nil }
