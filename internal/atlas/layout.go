// Package atlas packs many independent test scenarios into one rectangular
// buffer so a single kernel dispatch advances every scenario at once. Cases
// are placed left to right on a fixed grid of max-sized cells separated by
// spacing gutters; the gutters (and any area a smaller case leaves unused)
// hold the empty sentinel so one case's physics can never read another's
// cells.
package atlas

import (
	"errors"
	"fmt"

	"ruleforge/internal/model"
)

// MinSpacing is the smallest legal gutter: the Moore neighborhood radius.
const MinSpacing = 1

// SpacingFor returns a gutter width that keeps cases isolated for a full
// replay. Influence travels one cell per step, so the gutter must be at
// least as wide as the longest case's transition count.
func SpacingFor(cases []model.TestCase) int {
	s := MinSpacing
	for _, tc := range cases {
		if t := tc.Transitions(); t > s {
			s = t
		}
	}
	return s
}

// Slot records where one test case lives inside the atlas.
type Slot struct {
	CaseIndex int
	X, Y      int
	Width     int
	Height    int
	Frames    int
}

// Layout is the computed packing for a test-case set. It is built once per
// corpus and reused across the whole evolutionary run.
type Layout struct {
	Width     int
	Height    int
	Spacing   int
	MaxFrames int
	Slots     []Slot
}

// BuildLayout validates the cases and computes a one-row left-to-right
// packing using the maximum case width and height as the cell size.
func BuildLayout(cases []model.TestCase, spacing int) (Layout, error) {
	if len(cases) == 0 {
		return Layout{}, errors.New("atlas: at least one test case is required")
	}
	if spacing < MinSpacing {
		return Layout{}, fmt.Errorf("atlas: spacing %d is below the neighborhood radius %d", spacing, MinSpacing)
	}

	cellW, cellH, maxFrames := 0, 0, 0
	for i := range cases {
		if err := ValidateCase(cases[i]); err != nil {
			return Layout{}, err
		}
		if cases[i].Width > cellW {
			cellW = cases[i].Width
		}
		if cases[i].Height > cellH {
			cellH = cases[i].Height
		}
		if len(cases[i].Frames) > maxFrames {
			maxFrames = len(cases[i].Frames)
		}
	}

	layout := Layout{
		Width:     spacing + len(cases)*(cellW+spacing),
		Height:    cellH + 2*spacing,
		Spacing:   spacing,
		MaxFrames: maxFrames,
	}
	for i := range cases {
		layout.Slots = append(layout.Slots, Slot{
			CaseIndex: i,
			X:         spacing + i*(cellW+spacing),
			Y:         spacing,
			Width:     cases[i].Width,
			Height:    cases[i].Height,
			Frames:    len(cases[i].Frames),
		})
	}
	return layout, nil
}

// ValidateCase checks a test case's declared dimensions against its frame
// data. A disagreement is fatal to starting a run.
func ValidateCase(tc model.TestCase) error {
	if tc.Width <= 0 || tc.Height <= 0 {
		return &model.DimensionError{CaseID: tc.ID, Reason: fmt.Sprintf("non-positive dimensions %dx%d", tc.Width, tc.Height)}
	}
	if len(tc.Frames) == 0 {
		return &model.DimensionError{CaseID: tc.ID, Reason: "at least one frame is required"}
	}
	for f, frame := range tc.Frames {
		if len(frame) != tc.Height {
			return &model.DimensionError{CaseID: tc.ID, Reason: fmt.Sprintf("frame %d has %d rows, want %d", f, len(frame), tc.Height)}
		}
		for y, row := range frame {
			if len(row) != tc.Width {
				return &model.DimensionError{CaseID: tc.ID, Reason: fmt.Sprintf("frame %d row %d has %d cells, want %d", f, y, len(row), tc.Width)}
			}
			for x, cell := range row {
				if cell == model.Wildcard {
					return &model.DimensionError{CaseID: tc.ID, Reason: fmt.Sprintf("frame %d cell (%d,%d) holds the reserved wildcard value", f, x, y)}
				}
			}
		}
	}
	return nil
}

// PackFrame flattens frame[frameIndex] of every test case into one buffer
// at its assigned offset. Gutters and the regions of cases whose frame
// sequence is shorter stay at the empty sentinel.
func (l Layout) PackFrame(cases []model.TestCase, frameIndex int) []uint8 {
	buf := make([]uint8, l.Width*l.Height)
	for _, slot := range l.Slots {
		tc := cases[slot.CaseIndex]
		if frameIndex < 0 || frameIndex >= len(tc.Frames) {
			continue
		}
		frame := tc.Frames[frameIndex]
		for y := 0; y < slot.Height; y++ {
			row := (slot.Y + y) * l.Width
			for x := 0; x < slot.Width; x++ {
				buf[row+slot.X+x] = uint8(frame[y][x])
			}
		}
	}
	return buf
}

// UnpackCase extracts one case's sub-region from a packed buffer.
func (l Layout) UnpackCase(buf []uint8, caseIndex int) ([][]model.CellCategory, error) {
	if caseIndex < 0 || caseIndex >= len(l.Slots) {
		return nil, fmt.Errorf("atlas: case index %d out of range", caseIndex)
	}
	if len(buf) != l.Width*l.Height {
		return nil, fmt.Errorf("atlas: buffer length %d, want %d", len(buf), l.Width*l.Height)
	}
	slot := l.Slots[caseIndex]
	out := make([][]model.CellCategory, slot.Height)
	for y := 0; y < slot.Height; y++ {
		row := make([]model.CellCategory, slot.Width)
		base := (slot.Y+y)*l.Width + slot.X
		for x := 0; x < slot.Width; x++ {
			row[x] = model.CellCategory(buf[base+x])
		}
		out[y] = row
	}
	return out, nil
}

// MatchCase compares one case's sub-region of a packed buffer against an
// expected frame grid and reports whether every in-bounds cell matches.
func (l Layout) MatchCase(buf []uint8, caseIndex int, expected [][]model.CellCategory) (bool, error) {
	got, err := l.UnpackCase(buf, caseIndex)
	if err != nil {
		return false, err
	}
	if len(expected) != len(got) {
		return false, fmt.Errorf("atlas: expected frame has %d rows, slot has %d", len(expected), len(got))
	}
	for y := range got {
		if len(expected[y]) != len(got[y]) {
			return false, fmt.Errorf("atlas: expected frame row %d has %d cells, slot has %d", y, len(expected[y]), len(got[y]))
		}
		for x := range got[y] {
			if got[y][x] != expected[y][x] {
				return false, nil
			}
		}
	}
	return true, nil
}
