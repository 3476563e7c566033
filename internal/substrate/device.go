// Package substrate defines the data-parallel compute service the search
// core runs on: buffer allocation, kernel compilation and dispatch. The
// evolution core treats every dispatch as a synchronous call; parallelism
// is internal to the device.
package substrate

import (
	"errors"
	"fmt"
)

// BufferHandle identifies a device-resident 2-D cell buffer.
type BufferHandle int

// KernelHandle identifies a compiled step kernel.
type KernelHandle int

// ErrResourceExhausted is returned when the device refuses an allocation,
// e.g. an atlas larger than the configured cell budget.
var ErrResourceExhausted = errors.New("substrate: resource exhausted")

// ErrUnknownHandle is returned for operations on released or never
// allocated handles.
var ErrUnknownHandle = errors.New("substrate: unknown handle")

// CompileError reports generated kernel source rejected by the device.
// The evaluator absorbs it into a zero-fitness result; it never aborts an
// evolution run.
type CompileError struct {
	Line       int
	Col        int
	Diagnostic string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("substrate: compile error at %d:%d: %s", e.Line, e.Col, e.Diagnostic)
}

// Device is the external compute substrate contract. Buffers hold one cell
// category per element in row-major order.
type Device interface {
	AllocateBuffer(width, height int) (BufferHandle, error)
	UploadBuffer(handle BufferHandle, data []uint8, width, height int) error
	DownloadBuffer(handle BufferHandle, width, height int) ([]uint8, error)
	CompileKernel(source string) (KernelHandle, error)
	// Dispatch runs the kernel once over every cell of the output buffer.
	// Inputs are named; a step kernel reads its neighborhood from "src".
	Dispatch(kernel KernelHandle, inputs map[string]any, output BufferHandle, width, height int) error
	ReleaseBuffer(handle BufferHandle)
	ReleaseKernel(handle KernelHandle)
}
