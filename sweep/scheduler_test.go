package sweep_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/sweep"
	"github.com/xraph/escrow/types"
)

func TestRunOnceRefundsExpired(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	e := escrow.New(memory.New(), escrow.WithClock(func() time.Time { return start }))
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = e.Stop() }()

	buyer, _ := e.OpenAccount(ctx, "buyer", account.RoleBuyer)
	publisher, _ := e.OpenAccount(ctx, "publisher", account.RolePublisher)
	if _, err := e.TopUp(ctx, escrow.TopUpParams{AccountID: buyer.ID, Amount: types.USD(500), PaymentRef: "pay-1"}); err != nil {
		t.Fatal(err)
	}
	o, err := e.CreateOrder(ctx, escrow.Buyer(buyer.ID.String()), escrow.CreateOrderParams{
		BuyerAccountID:     buyer.ID,
		PublisherAccountID: publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := sweep.New(e, sweep.WithClock(func() time.Time { return start.Add(8 * 24 * time.Hour) }))
	res, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sweep.Refunded != 1 || res.Resumed != 0 {
		t.Fatalf("got %+v, want one refund", res)
	}

	got, err := e.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusRefunded {
		t.Errorf("status = %s, want refunded", got.Status)
	}

	res, err = s.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sweep.Refunded != 0 {
		t.Errorf("second run refunded %d, want 0", res.Sweep.Refunded)
	}
}

type fakeEngine struct {
	sweepErr  error
	resumeErr error
	resumed   int
	calls     int
}

func (f *fakeEngine) SweepExpired(context.Context, time.Time) (escrow.SweepResult, error) {
	f.calls++
	return escrow.SweepResult{Failed: 1}, f.sweepErr
}

func (f *fakeEngine) ResumeSettlements(context.Context) (int, error) {
	f.calls++
	return f.resumed, f.resumeErr
}

func TestRunOnceJoinsErrors(t *testing.T) {
	sweepErr := errors.New("refund failed")
	resumeErr := errors.New("resume failed")
	f := &fakeEngine{sweepErr: sweepErr, resumeErr: resumeErr, resumed: 2}

	res, err := sweep.New(f).RunOnce(context.Background())
	if !errors.Is(err, sweepErr) || !errors.Is(err, resumeErr) {
		t.Fatalf("got %v, want both errors", err)
	}
	if f.calls != 2 || res.Resumed != 2 || res.Sweep.Failed != 1 {
		t.Errorf("calls=%d result=%+v", f.calls, res)
	}
}

func TestStartStop(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"default", "", false},
		{"every five minutes", "0 */5 * * * *", false},
		{"missing seconds field", "*/5 * * * *", true},
		{"garbage", "whenever", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sweep.New(&fakeEngine{}, sweep.WithSchedule(tt.schedule))
			err := s.Start()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start: got %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if err := s.Start(); err == nil {
				t.Error("second Start succeeded")
			}
			if err := s.Stop(context.Background()); err != nil {
				t.Errorf("Stop: %v", err)
			}
			if err := s.Stop(context.Background()); err != nil {
				t.Errorf("second Stop: %v", err)
			}
		})
	}
}
