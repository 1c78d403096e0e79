package engine

import (
	"context"
	"testing"

	"github.com/moutainhigh/messagebus/internal/domain"
)

func newOrchestrator(configs *fakeConfigs, messages *fakeMessages, statuses *fakeStatuses, tickets *fakeTickets, sender *fakeSender) *Orchestrator {
	logger := testLogger()
	sweep := NewSweep(configs, messages, statuses, tickets, logger)
	comp := NewCompensator(configs, tickets, sender, logger)
	return NewOrchestrator(configs, sweep, comp, logger)
}

func TestOrchestrator_VisitsEnabledTypesOnly(t *testing.T) {
	app := appConfigFixture("app1", "order.created", "c1")
	app.MessageConfigs = append(app.MessageConfigs, domain.MessageConfig{
		Code:   "order.disabled",
		Enable: false,
	})
	noGroup := appConfigFixture("app2", "stock.changed", "c9")
	noGroup.DispatchGroup = ""

	configs := &fakeConfigs{apps: []domain.AppConfig{app, noGroup}}
	orch := newOrchestrator(configs, &fakeMessages{}, &fakeStatuses{}, &fakeTickets{}, &fakeSender{})

	outcomes, err := orch.CheckAndCompensate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("expected 1 unit (disabled type and groupless app skipped), got %d", len(outcomes))
	}
	if outcomes[0].AppID != "app1" || outcomes[0].Code != "order.created" {
		t.Errorf("unit = %s/%s, want app1/order.created", outcomes[0].AppID, outcomes[0].Code)
	}
	if !outcomes[0].SweepRan {
		t.Error("type opts into compensation checking, sweep should run")
	}
}

func TestOrchestrator_SweepOptOut(t *testing.T) {
	app := appConfigFixture("app1", "order.created", "c1")
	app.MessageConfigs[0].NeedCheckCompensate = false

	configs := &fakeConfigs{apps: []domain.AppConfig{app}}
	messages := &fakeMessages{candidates: []domain.Message{candidateMessage("m1")}}
	tickets := &fakeTickets{}
	orch := newOrchestrator(configs, messages, &fakeStatuses{}, tickets, &fakeSender{})

	outcomes, err := orch.CheckAndCompensate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcomes[0].SweepRan {
		t.Error("sweep must not run when the type opts out")
	}
	if len(tickets.inserted) != 0 {
		t.Errorf("no tickets expected without a sweep, got %d", len(tickets.inserted))
	}
	// Compensate still runs unconditionally
	if outcomes[0].CompErr != "" {
		t.Errorf("compensate step should succeed, got %q", outcomes[0].CompErr)
	}
}

// A sweep failure for a type must not prevent the compensate step for that
// type, and a failing unit must not prevent the loop from reaching the next.
func TestOrchestrator_StepAndUnitIsolation(t *testing.T) {
	appBad := appConfigFixture("app-bad", "t1", "c1")
	appGood := appConfigFixture("app-good", "t2", "c2")
	configs := &fakeConfigs{apps: []domain.AppConfig{appBad, appGood}}

	messages := &fakeMessages{fetchErr: errDeliveryBoom} // sweeps fail for everyone
	tickets := &fakeTickets{outstanding: []domain.CompensationTicket{
		outstandingTicket("t-b", "m-b", "c1"),
	}}
	sender := &fakeSender{}
	orch := newOrchestrator(configs, messages, &fakeStatuses{}, tickets, sender)

	outcomes, err := orch.CheckAndCompensate(context.Background())
	if err != nil {
		t.Fatalf("orchestrator must not propagate unit failures: %v", err)
	}

	if len(outcomes) != 2 {
		t.Fatalf("both units must be visited, got %d", len(outcomes))
	}
	for _, outcome := range outcomes {
		if outcome.SweepErr == "" {
			t.Errorf("unit %s/%s: sweep should have failed", outcome.AppID, outcome.Code)
		}
		if outcome.CompErr != "" {
			t.Errorf("unit %s/%s: compensate should still run and succeed, got %q",
				outcome.AppID, outcome.Code, outcome.CompErr)
		}
	}
	// The bad app's outstanding ticket was still attempted despite its sweep
	// failure. (The fake ticket store is shared, so both units drain it.)
	if len(sender.calls) == 0 {
		t.Error("compensate step should still deliver outstanding tickets")
	}
}

func TestOrchestrator_SingleType(t *testing.T) {
	app := appConfigFixture("app1", "order.created", "c1")
	configs := &fakeConfigs{apps: []domain.AppConfig{app}}
	messages := &fakeMessages{candidates: []domain.Message{candidateMessage("m1")}}
	statuses := &fakeStatuses{records: map[string]*domain.DeliveryStatus{}}
	tickets := &fakeTickets{}
	orch := newOrchestrator(configs, messages, statuses, tickets, &fakeSender{})

	outcome := orch.CheckAndCompensateType(context.Background(), "app1", &app.MessageConfigs[0])

	if outcome.SweepErr != "" || outcome.CompErr != "" {
		t.Fatalf("unexpected errors: sweep=%q comp=%q", outcome.SweepErr, outcome.CompErr)
	}
	if len(tickets.inserted) != 1 {
		t.Errorf("expected 1 ticket for the unconfirmed consumer, got %d", len(tickets.inserted))
	}
}
