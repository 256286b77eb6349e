package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	cfg   model.BusinessConfig
	calls int
}

func (f *fakeConfig) LoadConfig(context.Context, string) (model.BusinessConfig, error) {
	f.calls++
	return f.cfg, nil
}

type fakeCounts map[string]int

func (f fakeCounts) CountBySlot(context.Context, string, string) (map[string]int, error) {
	return f, nil
}

type fakeBooker struct {
	got  *BookRequest
	err  error
	resp model.Reservation
}

func (f *fakeBooker) BookSlot(_ context.Context, req BookRequest) (model.Reservation, bool, error) {
	f.got = &req
	if f.err != nil {
		return model.Reservation{}, false, f.err
	}
	return f.resp, false, nil
}

// 2024-06-01 is a Saturday.
var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(cfg model.BusinessConfig, counts fakeCounts, booker *fakeBooker) (*Service, *fakeConfig) {
	src := &fakeConfig{cfg: cfg}
	svc := NewService(src, nil, counts, booker, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return fixedNow },
	})
	return svc, src
}

func baseConfig() model.BusinessConfig {
	return model.BusinessConfig{
		BusinessID: "biz-1",
		Definitions: []model.TimeSlotDefinition{
			{ID: "dinner", Start: "19:00", End: "22:00", Capacity: 3, MaxPartySize: 10, Days: []string{"sat", "sun"}},
			{ID: "late", Start: "23:00", End: "01:00", Capacity: 2, MaxPartySize: 4, Days: []string{"saturday"}},
		},
		ClosedSlots: []model.ClosedSlot{{Date: "2024-06-01", Time: "20:00"}},
		ClosedDates: []model.ClosedDate{{Date: "2024-06-02"}},
		Policy:      model.ReservationPolicy{AcceptsDirectReservations: true, Timezone: "UTC"},
	}
}

func request(date, at string, party int) Request {
	return Request{BusinessID: "biz-1", Date: date, Time: at, PartySize: party, ContactName: "Maria"}
}

func requireRejection(t *testing.T, err error, code RejectionCode) *Rejection {
	t.Helper()
	rej, ok := AsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	assert.Equal(t, code, rej.Code)
	return rej
}

func TestBookRejectsPartyAboveMatchedMax(t *testing.T) {
	booker := &fakeBooker{}
	svc, _ := newTestService(baseConfig(), nil, booker)

	_, _, err := svc.Book(context.Background(), request("2024-06-01", "19:30", 12))
	rej := requireRejection(t, err, CodePartyTooLarge)
	assert.Equal(t, 10, rej.MaxAllowed)
	assert.Nil(t, booker.got, "booker must not be called")
}

func TestBookRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.BusinessConfig)
		req    Request
		code   RejectionCode
	}{
		{"zero party", nil, request("2024-06-01", "19:30", 0), CodeInvalidPartySize},
		{"disabled", func(c *model.BusinessConfig) { c.Policy.AcceptsDirectReservations = false }, request("2024-06-01", "19:30", 2), CodeReservationsDisabled},
		{"past date", nil, request("2024-05-31", "19:30", 2), CodeDateInPast},
		{"closed date", nil, request("2024-06-02", "19:30", 2), CodeDateClosed},
		{"closed slot", nil, request("2024-06-01", "20:00", 2), CodeSlotClosed},
		{"outside windows", nil, request("2024-06-01", "15:00", 2), CodeSlotUnavailable},
		{"off step", nil, request("2024-06-01", "19:10", 2), CodeSlotUnavailable},
		{"already started", func(c *model.BusinessConfig) {
			c.Definitions = append(c.Definitions, model.TimeSlotDefinition{Start: "11:00", End: "13:00", Capacity: 2, MaxPartySize: 4, Days: []string{"sat"}})
		}, request("2024-06-01", "11:30", 2), CodeSlotUnavailable},
		{"no weekday", nil, request("2024-06-03", "19:30", 2), CodeSlotUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			if tc.mutate != nil {
				tc.mutate(&cfg)
			}
			svc, _ := newTestService(cfg, nil, &fakeBooker{})
			_, _, err := svc.Book(context.Background(), tc.req)
			requireRejection(t, err, tc.code)
		})
	}
}

func TestBookPassesNormalizedRequestToBooker(t *testing.T) {
	booker := &fakeBooker{resp: model.Reservation{ID: "res-1"}}
	cfg := baseConfig()
	cfg.Policy.RequiresApproval = true
	svc, _ := newTestService(cfg, nil, booker)

	res, _, err := svc.Book(context.Background(), request("2024-06-01", "00:30:00", 4))
	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ID)
	require.NotNil(t, booker.got)
	assert.Equal(t, "00:30", booker.got.Time)
	assert.Equal(t, model.StatusPending, booker.got.Status)
}

func TestBookPropagatesBookerErrorsVerbatim(t *testing.T) {
	full := Reject(CodeSlotFull, "slot is fully booked")
	svc, _ := newTestService(baseConfig(), nil, &fakeBooker{err: full})
	_, _, err := svc.Book(context.Background(), request("2024-06-01", "19:30", 2))
	assert.Same(t, full, err)

	boom := errors.New("connection reset")
	svc, _ = newTestService(baseConfig(), nil, &fakeBooker{err: boom})
	_, _, err = svc.Book(context.Background(), request("2024-06-01", "19:30", 2))
	assert.Same(t, boom, err)
}

func TestBookInvalidInput(t *testing.T) {
	svc, src := newTestService(baseConfig(), nil, &fakeBooker{})
	_, _, err := svc.Book(context.Background(), request("01/06/2024", "19:30", 2))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, _, err = svc.Book(context.Background(), request("2024-06-01", "7pm", 2))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, src.calls)
}

func TestAvailability(t *testing.T) {
	svc, _ := newTestService(baseConfig(), fakeCounts{"19:00": 3, "21:30": 1}, &fakeBooker{})

	got, err := svc.Availability(context.Background(), "biz-1", "2024-06-01")
	require.NoError(t, err)

	var times []string
	for _, s := range got {
		times = append(times, s.Time)
	}
	assert.Equal(t, []string{"19:30", "20:30", "21:00", "21:30", "23:00", "23:30", "00:00", "00:30"}, times)
	assert.Equal(t, 10, got[0].MaxPartySize)
	assert.Equal(t, 4, got[len(got)-1].MaxPartySize)

	closed, err := svc.Availability(context.Background(), "biz-1", "2024-06-02")
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestBookableDates(t *testing.T) {
	svc, _ := newTestService(baseConfig(), nil, &fakeBooker{})
	got, err := svc.BookableDates(context.Background(), "biz-1", "", 9)
	require.NoError(t, err)
	// Saturdays and Sundays from 2024-06-01, minus the closed 2024-06-02.
	assert.Equal(t, []string{"2024-06-01", "2024-06-08", "2024-06-09"}, got)
}

func TestOvernightSlotsStayBookableAfterMidnight(t *testing.T) {
	cfg := model.BusinessConfig{
		BusinessID: "biz-1",
		Definitions: []model.TimeSlotDefinition{
			{ID: "late", Start: "22:00", End: "03:00", Capacity: 4, MaxPartySize: 6, Days: []string{"fri"}},
		},
		Policy: model.ReservationPolicy{AcceptsDirectReservations: true, Timezone: "UTC"},
	}
	booker := &fakeBooker{resp: model.Reservation{ID: "res-1"}}
	// Saturday 00:30, still inside Friday's service day.
	svc := NewService(&fakeConfig{cfg: cfg}, nil, fakeCounts{}, booker, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC) },
	})
	ctx := context.Background()

	avail, err := svc.Availability(ctx, "biz-1", "2024-05-31")
	require.NoError(t, err)
	times := make([]string, 0, len(avail))
	for _, a := range avail {
		times = append(times, a.Time)
	}
	assert.Equal(t, []string{"01:00", "01:30", "02:00", "02:30"}, times)

	_, _, err = svc.Book(ctx, request("2024-05-31", "01:00", 2))
	require.NoError(t, err)
	require.NotNil(t, booker.got)
	assert.Equal(t, "2024-05-31", booker.got.Date)
	assert.Equal(t, "01:00", booker.got.Time)

	_, _, err = svc.Book(ctx, request("2024-05-31", "00:30", 2))
	requireRejection(t, err, CodeSlotUnavailable)
	_, _, err = svc.Book(ctx, request("2024-05-30", "01:00", 2))
	requireRejection(t, err, CodeDateInPast)

	dates, err := svc.BookableDates(ctx, "biz-1", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-31"}, dates)
}
