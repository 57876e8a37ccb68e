package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zoff-tech/go-msgpipe/pkg/pipeline"
	"github.com/zoff-tech/go-msgpipe/pkg/reconciler"
	"github.com/zoff-tech/go-msgpipe/pkg/validation"
)

const (
	AddMedicalShiftType    = "AddMedicalShift"
	CancelMedicalShiftType = "CancelMedicalShift"

	// duty-hour cap for residents, averaged per week
	maxWeeklyHours = 80
)

var errShiftOverlap = errors.New("shift overlaps an existing shift")

type AddMedicalShift struct {
	ShiftID    string    `json:"shiftId" validate:"required"`
	ResidentID string    `json:"residentId" validate:"required"`
	Department string    `json:"department" validate:"required"`
	Start      time.Time `json:"start" validate:"required"`
	Hours      float64   `json:"hours" validate:"gt=0,lte=28"`
}

func (s AddMedicalShift) end() time.Time {
	return s.Start.Add(time.Duration(s.Hours * float64(time.Hour)))
}

type CancelMedicalShift struct {
	ShiftID    string `json:"shiftId" validate:"required"`
	ResidentID string `json:"residentId" validate:"required"`
}

// roster is the scheduling state the residency handlers mutate.
type roster struct {
	mu     sync.Mutex
	shifts map[string]map[string]AddMedicalShift // resident -> shift id -> shift
}

func newRoster() *roster {
	return &roster{shifts: make(map[string]map[string]AddMedicalShift)}
}

func (r *roster) add(_ context.Context, s AddMedicalShift) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.shifts[s.ResidentID]
	if byID == nil {
		byID = make(map[string]AddMedicalShift)
		r.shifts[s.ResidentID] = byID
	}
	if _, exists := byID[s.ShiftID]; exists {
		return nil // replayed
	}
	for _, other := range byID {
		if s.Start.Before(other.end()) && other.Start.Before(s.end()) {
			return fmt.Errorf("%w: %s", errShiftOverlap, other.ShiftID)
		}
	}
	byID[s.ShiftID] = s
	return nil
}

func (r *roster) cancel(_ context.Context, c CancelMedicalShift) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shifts[c.ResidentID], c.ShiftID)
	return nil
}

func (r *roster) count(residentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shifts[residentID])
}

func registerResidency(validators *validation.Registry, handlers *pipeline.HandlerRegistry, factory *pipeline.Factory, rec *reconciler.Reconciler, r *roster) error {
	if err := validation.RegisterStruct[AddMedicalShift](validators, nil, func(ctx context.Context, s AddMedicalShift) error {
		if s.Start.Minute() != 0 || s.Start.Second() != 0 {
			return errors.New("start must be on the hour")
		}
		return nil
	}); err != nil {
		return err
	}
	if err := validation.RegisterStruct[CancelMedicalShift](validators, nil); err != nil {
		return err
	}

	if err := handlers.Register(AddMedicalShiftType, pipeline.HandleFunc(r.add)); err != nil {
		return err
	}
	if err := handlers.Register(CancelMedicalShiftType, pipeline.HandleFunc(r.cancel)); err != nil {
		return err
	}

	// Adding a shift is capped by the hours already scheduled this week.
	// Cancellations run the default pipeline.
	if err := factory.Register(AddMedicalShiftType, func(b *pipeline.Builder) *pipeline.Builder {
		pipeline.UseStep[*pipeline.ValidationStep](b)
		pipeline.UseStep[*pipeline.DeadLetterStep](b)
		pipeline.UseStep[*pipeline.RetryStep](b)
		b.Use(pipeline.WeeklyHoursLimit(maxWeeklyHours))
		return pipeline.UseStep[*pipeline.OutboxStep](b)
	}); err != nil {
		return err
	}

	if err := rec.RegisterDecoder(AddMedicalShiftType, reconciler.JSON[AddMedicalShift]()); err != nil {
		return err
	}
	return rec.RegisterDecoder(CancelMedicalShiftType, reconciler.JSON[CancelMedicalShift]())
}
