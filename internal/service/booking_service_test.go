package service

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/events"
	"alcyxob/fitness-booking/internal/lock"
	"alcyxob/fitness-booking/internal/repository"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var tomorrow = time.Now().Add(24 * time.Hour)

func TestReserve_Success(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 2, tomorrow)
	member := primitive.NewObjectID()

	reservation, err := f.booking.Reserve(context.Background(), member, class.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationBooked, reservation.Status)
	assert.Equal(t, member, reservation.MemberID)
	assert.Equal(t, class.ID, reservation.ClassID)

	assert.Equal(t, 1, f.occupied(t, class.ID))
	assert.Equal(t, 1, f.booked(t, class.ID))
	assert.Equal(t, []string{events.BookingReserved}, f.publisher.types())
}

func TestReserve_ClassNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.booking.Reserve(context.Background(), primitive.NewObjectID(), primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrClassNotFound)
	assert.Empty(t, f.publisher.types())
}

func TestReserve_CancelledClassLeavesNoWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 5, tomorrow)
	require.NoError(t, f.classes.Cancel(ctx, class.ID))

	_, err := f.booking.Reserve(ctx, primitive.NewObjectID(), class.ID)
	assert.ErrorIs(t, err, ErrClassNotActive)
	assert.Equal(t, 0, f.occupied(t, class.ID))
	assert.Equal(t, 0, f.booked(t, class.ID))
}

func TestReserve_FullClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 1, tomorrow)

	_, err := f.booking.Reserve(ctx, primitive.NewObjectID(), class.ID)
	require.NoError(t, err)

	_, err = f.booking.Reserve(ctx, primitive.NewObjectID(), class.ID)
	assert.ErrorIs(t, err, ErrClassFull)
	assert.Equal(t, 1, f.occupied(t, class.ID))
}

func TestReserve_FullWinsOverDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 1, tomorrow)
	member := primitive.NewObjectID()

	_, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)

	_, err = f.booking.Reserve(ctx, member, class.ID)
	assert.ErrorIs(t, err, ErrClassFull)
}

func TestReserve_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 5, tomorrow)
	member := primitive.NewObjectID()

	_, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)

	_, err = f.booking.Reserve(ctx, member, class.ID)
	assert.ErrorIs(t, err, ErrAlreadyBooked)
	assert.Equal(t, 1, f.occupied(t, class.ID))
	assert.Equal(t, 1, f.booked(t, class.ID))
}

func TestReserve_ConcurrentLastSeat(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 1, tomorrow)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.booking.Reserve(context.Background(), primitive.NewObjectID(), class.ID)
		}(i)
	}
	wg.Wait()

	successes, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrClassFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, f.occupied(t, class.ID))
}

func TestReserve_ConcurrentManyMembers(t *testing.T) {
	f := newFixture(t)
	const capacity, members = 5, 25
	class := f.class(t, capacity, tomorrow)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.booking.Reserve(context.Background(), primitive.NewObjectID(), class.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrClassFull)
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, successes)
	assert.Equal(t, capacity, f.occupied(t, class.ID))
	assert.Equal(t, capacity, f.booked(t, class.ID))
}

func TestReserve_SameMemberConcurrently(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 10, tomorrow)
	member := primitive.NewObjectID()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.booking.Reserve(context.Background(), member, class.ID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyBooked)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.occupied(t, class.ID))
}

func TestCancel_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 3, tomorrow)
	member := primitive.NewObjectID()

	reservation, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)

	cancelled, err := f.booking.Cancel(ctx, reservation.ID, member)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCancelled, cancelled.Status)
	assert.Equal(t, 0, f.occupied(t, class.ID))
	assert.Equal(t, 0, f.booked(t, class.ID))
	assert.Equal(t, []string{events.BookingReserved, events.BookingCancelled}, f.publisher.types())
}

func TestCancel_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 3, tomorrow)
	member := primitive.NewObjectID()

	reservation, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)
	_, err = f.booking.Cancel(ctx, reservation.ID, member)
	require.NoError(t, err)

	_, err = f.booking.Cancel(ctx, reservation.ID, member)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	assert.Equal(t, 0, f.occupied(t, class.ID))
}

func TestCancel_ConcurrentSameReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 3, tomorrow)
	member := primitive.NewObjectID()

	reservation, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.booking.Cancel(ctx, reservation.ID, member)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyCancelled)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, f.occupied(t, class.ID))
}

func TestCancel_NotOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 3, tomorrow)

	reservation, err := f.booking.Reserve(ctx, primitive.NewObjectID(), class.ID)
	require.NoError(t, err)

	_, err = f.booking.Cancel(ctx, reservation.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotReservationOwner)
	assert.Equal(t, 1, f.occupied(t, class.ID))
	assert.Equal(t, 1, f.booked(t, class.ID))
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.booking.Cancel(context.Background(), primitive.NewObjectID(), primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestCancel_AllowedOnCancelledClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 3, tomorrow)
	member := primitive.NewObjectID()

	reservation, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)
	_, err = f.catalog.CancelClass(ctx, class.ID)
	require.NoError(t, err)

	_, err = f.booking.Cancel(ctx, reservation.ID, member)
	require.NoError(t, err)
	assert.Equal(t, 0, f.occupied(t, class.ID))
}

func TestRebookAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 1, tomorrow)
	member := primitive.NewObjectID()

	first, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)
	_, err = f.booking.Cancel(ctx, first.ID, member)
	require.NoError(t, err)

	second, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, f.occupied(t, class.ID))

	old, err := f.reservations.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCancelled, old.Status)
}

func TestCancel_RepairsLedgerAlreadyAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 3, tomorrow)
	member := primitive.NewObjectID()

	reservation, err := f.booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)
	require.NoError(t, f.classes.SetOccupancy(ctx, class.ID, 0))

	_, err = f.booking.Cancel(ctx, reservation.ID, member)
	require.NoError(t, err)
	assert.Equal(t, 0, f.occupied(t, class.ID))
}

func TestReconcile_RepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.class(t, 5, tomorrow)
	for i := 0; i < 3; i++ {
		_, err := f.booking.Reserve(ctx, primitive.NewObjectID(), class.ID)
		require.NoError(t, err)
	}
	require.NoError(t, f.classes.SetOccupancy(ctx, class.ID, 1))

	result, err := f.booking.Reconcile(ctx, class.ID)
	require.NoError(t, err)
	assert.True(t, result.Drift)
	assert.Equal(t, 1, result.Before)
	assert.Equal(t, 3, result.After)
	assert.Equal(t, 3, f.occupied(t, class.ID))

	result, err = f.booking.Reconcile(ctx, class.ID)
	require.NoError(t, err)
	assert.False(t, result.Drift)
}

func TestReconcile_ClassNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.booking.Reconcile(context.Background(), primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.class(t, 5, tomorrow)
	b := f.class(t, 5, tomorrow)
	_, err := f.booking.Reserve(ctx, primitive.NewObjectID(), a.ID)
	require.NoError(t, err)
	require.NoError(t, f.classes.SetOccupancy(ctx, b.ID, 2))

	results, err := f.booking.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	drifted := 0
	for _, r := range results {
		if r.Drift {
			drifted++
			assert.Equal(t, b.ID, r.ClassID)
		}
	}
	assert.Equal(t, 1, drifted)
	assert.Equal(t, 1, f.occupied(t, a.ID))
	assert.Equal(t, 0, f.occupied(t, b.ID))
}

func TestReserve_PublishFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	class := f.class(t, 1, tomorrow)

	_, err := f.booking.Reserve(context.Background(), primitive.NewObjectID(), class.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.occupied(t, class.ID))
}

// failingCreateRepo makes every insert fail after the ledger was incremented.
type failingCreateRepo struct {
	repository.ReservationRepository
}

func (failingCreateRepo) Create(context.Context, *domain.Reservation) (primitive.ObjectID, error) {
	return primitive.NilObjectID, errors.New("insert failed")
}

func TestReserve_CompensatesLedgerWithoutTransactions(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 2, tomorrow)
	booking := NewBookingService(f.classes, failingCreateRepo{f.reservations}, repository.NoTransaction, lock.NewKeyedMutex(0), nil)

	_, err := booking.Reserve(context.Background(), primitive.NewObjectID(), class.ID)
	assert.Error(t, err)
	assert.Equal(t, 0, f.occupied(t, class.ID))
}

func TestReserve_RollsBackLedgerWithTransactions(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 2, tomorrow)
	booking := NewBookingService(f.classes, failingCreateRepo{f.reservations}, f.store, lock.NewKeyedMutex(0), nil)

	_, err := booking.Reserve(context.Background(), primitive.NewObjectID(), class.ID)
	assert.Error(t, err)
	assert.Equal(t, 0, f.occupied(t, class.ID))
}

func TestReserve_LockTimeout(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 2, tomorrow)
	locker := lock.NewKeyedMutex(0)
	booking := NewBookingService(f.classes, f.reservations, f.store, locker, nil)

	unlock, err := locker.Lock(context.Background(), classLockKey(class.ID))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = booking.Reserve(ctx, primitive.NewObjectID(), class.ID)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Equal(t, 0, f.occupied(t, class.ID))
}

func TestReserve_SlowPublisherDoesNotHoldClassLock(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 2, tomorrow)
	publisher := newBlockingPublisher()
	defer close(publisher.release)
	booking := NewBookingService(f.classes, f.reservations, f.store, lock.NewKeyedMutex(0), publisher)

	first := make(chan error, 1)
	go func() {
		_, err := booking.Reserve(context.Background(), primitive.NewObjectID(), class.ID)
		first <- err
	}()

	select {
	case <-publisher.entered:
	case <-time.After(time.Second):
		t.Fatal("first booking never reached publish")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	second, err := booking.Reserve(ctx, primitive.NewObjectID(), class.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationBooked, second.Status)
	assert.Equal(t, 2, f.occupied(t, class.ID))
}

func TestCancel_SlowPublisherDoesNotHoldClassLock(t *testing.T) {
	f := newFixture(t)
	class := f.class(t, 2, tomorrow)
	member := primitive.NewObjectID()
	reservation, err := f.booking.Reserve(context.Background(), member, class.ID)
	require.NoError(t, err)

	publisher := newBlockingPublisher()
	defer close(publisher.release)
	booking := NewBookingService(f.classes, f.reservations, f.store, lock.NewKeyedMutex(0), publisher)

	go func() {
		_, _ = booking.Cancel(context.Background(), reservation.ID, member)
	}()

	select {
	case <-publisher.entered:
	case <-time.After(time.Second):
		t.Fatal("cancel never reached publish")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = booking.Reserve(ctx, member, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.occupied(t, class.ID))
}
