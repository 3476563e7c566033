// Package fitness scores candidate genomes against a test-case corpus by
// compiling them to step kernels and replaying every case on a substrate
// device. All cases of a corpus advance together inside one packed atlas,
// so each simulated step costs a single dispatch.
package fitness

import (
	"context"
	"errors"
	"fmt"

	"ruleforge/internal/atlas"
	"ruleforge/internal/kernelgen"
	"ruleforge/internal/model"
	"ruleforge/internal/substrate"
)

// BatchEvaluator owns the device resources for scoring one corpus: the
// atlas layout, a reusable ping-pong buffer pair, and a cache of compiled
// kernels keyed by source text so identical genomes compile once.
type BatchEvaluator struct {
	device  substrate.Device
	cases   []model.TestCase
	layout  atlas.Layout
	front   substrate.BufferHandle
	back    substrate.BufferHandle
	kernels map[string]substrate.KernelHandle
}

// NewBatchEvaluator validates the corpus, builds the packing layout and
// allocates the simulation buffers. A non-positive spacing picks the gutter
// width that isolates cases for the whole replay. Resource-budget failures
// surface as substrate.ErrResourceExhausted before any genome is scored.
func NewBatchEvaluator(device substrate.Device, cases []model.TestCase, spacing int) (*BatchEvaluator, error) {
	if spacing <= 0 {
		spacing = atlas.SpacingFor(cases)
	}
	layout, err := atlas.BuildLayout(cases, spacing)
	if err != nil {
		return nil, err
	}

	front, err := device.AllocateBuffer(layout.Width, layout.Height)
	if err != nil {
		return nil, fmt.Errorf("fitness: allocating front buffer: %w", err)
	}
	back, err := device.AllocateBuffer(layout.Width, layout.Height)
	if err != nil {
		device.ReleaseBuffer(front)
		return nil, fmt.Errorf("fitness: allocating back buffer: %w", err)
	}

	return &BatchEvaluator{
		device:  device,
		cases:   cases,
		layout:  layout,
		front:   front,
		back:    back,
		kernels: make(map[string]substrate.KernelHandle),
	}, nil
}

// Layout exposes the packing computed for the corpus.
func (e *BatchEvaluator) Layout() atlas.Layout { return e.layout }

// Evaluate scores one genome. A genome whose generated kernel fails to
// compile is not an evaluator failure: it scores zero and the error is
// absorbed. Device faults and cancellation are returned to the caller.
func (e *BatchEvaluator) Evaluate(ctx context.Context, g model.Genome) (model.FitnessReport, error) {
	source := kernelgen.Compile(g)
	kernel, ok := e.kernels[source]
	if !ok {
		var err error
		kernel, err = e.device.CompileKernel(source)
		if err != nil {
			var ce *substrate.CompileError
			if errors.As(err, &ce) {
				return e.zeroReport(), nil
			}
			return model.FitnessReport{}, fmt.Errorf("fitness: compiling kernel: %w", err)
		}
		e.kernels[source] = kernel
	}

	initial := e.layout.PackFrame(e.cases, 0)
	if err := e.device.UploadBuffer(e.front, initial, e.layout.Width, e.layout.Height); err != nil {
		return model.FitnessReport{}, fmt.Errorf("fitness: uploading initial state: %w", err)
	}

	perCase := make([]model.CaseResult, len(e.cases))
	for i, tc := range e.cases {
		perCase[i] = model.CaseResult{
			CaseID:           tc.ID,
			Name:             tc.Name,
			TotalTransitions: tc.Transitions(),
		}
	}

	front, back := e.front, e.back
	for step := 1; step < e.layout.MaxFrames; step++ {
		if err := ctx.Err(); err != nil {
			return model.FitnessReport{}, err
		}
		if err := e.device.Dispatch(kernel, map[string]any{"src": front}, back, e.layout.Width, e.layout.Height); err != nil {
			return model.FitnessReport{}, fmt.Errorf("fitness: dispatching step %d: %w", step, err)
		}
		state, err := e.device.DownloadBuffer(back, e.layout.Width, e.layout.Height)
		if err != nil {
			return model.FitnessReport{}, fmt.Errorf("fitness: reading step %d: %w", step, err)
		}
		for i, tc := range e.cases {
			if step >= len(tc.Frames) {
				continue
			}
			ok, err := e.layout.MatchCase(state, i, tc.Frames[step])
			if err != nil {
				return model.FitnessReport{}, fmt.Errorf("fitness: comparing case %s: %w", tc.ID, err)
			}
			if ok {
				perCase[i].CorrectTransitions++
			}
		}
		front, back = back, front
	}

	return e.summarize(perCase), nil
}

// Close releases the device resources held by the evaluator.
func (e *BatchEvaluator) Close() {
	e.device.ReleaseBuffer(e.front)
	e.device.ReleaseBuffer(e.back)
	for _, kernel := range e.kernels {
		e.device.ReleaseKernel(kernel)
	}
	e.kernels = make(map[string]substrate.KernelHandle)
}

func (e *BatchEvaluator) zeroReport() model.FitnessReport {
	perCase := make([]model.CaseResult, len(e.cases))
	for i, tc := range e.cases {
		perCase[i] = model.CaseResult{
			CaseID:           tc.ID,
			Name:             tc.Name,
			TotalTransitions: tc.Transitions(),
		}
	}
	return e.summarize(perCase)
}

func (e *BatchEvaluator) summarize(perCase []model.CaseResult) model.FitnessReport {
	report := model.FitnessReport{
		TotalCases: len(perCase),
		PerCase:    perCase,
	}
	for i := range perCase {
		perCase[i].Passed = perCase[i].CorrectTransitions == perCase[i].TotalTransitions && perCase[i].TotalTransitions > 0
		report.CorrectTransitions += perCase[i].CorrectTransitions
		report.TotalTransitions += perCase[i].TotalTransitions
		if perCase[i].Passed {
			report.PassedCases++
		}
	}
	if report.TotalCases > 0 {
		report.Score = float64(report.CorrectTransitions) +
			float64(report.PassedCases)*(float64(report.TotalTransitions)/float64(report.TotalCases))
	}
	return report
}
