package engine

import (
	"context"
	"log/slog"

	"github.com/moutainhigh/messagebus/internal/domain"
)

// UnitOutcome is the result of one (app, message type) sweep+compensate unit.
// The two steps are recovered independently so a sweep failure never blocks
// the compensate step, and one unit's failure never blocks the next unit.
type UnitOutcome struct {
	AppID    string          `json:"app_id"`
	Code     string          `json:"code"`
	SweepRan bool            `json:"sweep_ran"`
	SweepErr string          `json:"sweep_error,omitempty"`
	CompErr  string          `json:"compensate_error,omitempty"`
	Tickets  []TicketOutcome `json:"tickets,omitempty"`
}

// Orchestrator runs the sweep and the compensator across every configured
// tenant. An external scheduler invokes it on a fixed cadence.
type Orchestrator struct {
	configs     ConfigProvider
	sweep       *Sweep
	compensator *Compensator
	logger      *slog.Logger
}

func NewOrchestrator(configs ConfigProvider, sweep *Sweep, compensator *Compensator, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		configs:     configs,
		sweep:       sweep,
		compensator: compensator,
		logger:      logger,
	}
}

// CheckAndCompensate walks every app config with a dispatch group and every
// enabled message type, running the sweep (when the type opts in) and then
// the compensate step. Always returns one outcome per unit visited.
func (o *Orchestrator) CheckAndCompensate(ctx context.Context) ([]UnitOutcome, error) {
	appConfigs, err := o.configs.GetAllAppConfigs(ctx)
	if err != nil {
		return nil, err
	}

	var outcomes []UnitOutcome
	for i := range appConfigs {
		appConfig := &appConfigs[i]
		if appConfig.DispatchGroup == "" {
			continue
		}
		for j := range appConfig.MessageConfigs {
			msgConfig := &appConfig.MessageConfigs[j]
			if !msgConfig.Enable {
				continue
			}
			outcomes = append(outcomes, o.runUnit(ctx, appConfig.AppID, msgConfig))
		}
	}

	return outcomes, nil
}

// CheckAndCompensateType runs a single (app, message type) unit.
func (o *Orchestrator) CheckAndCompensateType(ctx context.Context, appID string, msgConfig *domain.MessageConfig) UnitOutcome {
	return o.runUnit(ctx, appID, msgConfig)
}

func (o *Orchestrator) runUnit(ctx context.Context, appID string, msgConfig *domain.MessageConfig) UnitOutcome {
	code := msgConfig.Code
	outcome := UnitOutcome{AppID: appID, Code: code}

	o.logger.Info("check and compensate start", "app_id", appID, "code", code)

	if msgConfig.NeedCheckCompensate {
		outcome.SweepRan = true
		if err := o.sweep.CheckToCompensate(ctx, appID, code); err != nil {
			outcome.SweepErr = err.Error()
			o.logger.Error("sweep step failed", "error", err, "app_id", appID, "code", code)
		}
	}

	tickets, err := o.compensator.Compensate(ctx, appID, code)
	if err != nil {
		outcome.CompErr = err.Error()
		o.logger.Error("compensate step failed", "error", err, "app_id", appID, "code", code)
	}
	outcome.Tickets = tickets

	o.logger.Info("check and compensate end", "app_id", appID, "code", code)
	return outcome
}
