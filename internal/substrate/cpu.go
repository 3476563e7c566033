package substrate

import (
	"fmt"
	"runtime"
	"sync"
)

// CPUOptions configure the reference device.
type CPUOptions struct {
	// MaxCells caps the total cells allocatable per buffer; 0 means the
	// default budget. Allocation beyond the cap fails with
	// ErrResourceExhausted.
	MaxCells int
	// Workers bounds dispatch parallelism; 0 means GOMAXPROCS.
	Workers int
}

const defaultMaxCells = 1 << 24

// CPUDevice is an in-process reference implementation of Device. It
// compiles the generated kernel grammar with a real parser and executes
// dispatches by chunking output rows across goroutines. Neighborhood reads
// outside the buffer observe the empty sentinel (0).
type CPUDevice struct {
	mu         sync.Mutex
	maxCells   int
	workers    int
	nextBuffer BufferHandle
	nextKernel KernelHandle
	buffers    map[BufferHandle]*cpuBuffer
	kernels    map[KernelHandle]program
}

type cpuBuffer struct {
	width  int
	height int
	cells  []uint8
}

func NewCPUDevice(opts CPUOptions) *CPUDevice {
	maxCells := opts.MaxCells
	if maxCells <= 0 {
		maxCells = defaultMaxCells
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &CPUDevice{
		maxCells: maxCells,
		workers:  workers,
		buffers:  make(map[BufferHandle]*cpuBuffer),
		kernels:  make(map[KernelHandle]program),
	}
}

func (d *CPUDevice) AllocateBuffer(width, height int) (BufferHandle, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("substrate: invalid buffer dimensions %dx%d", width, height)
	}
	if width*height > d.maxCells {
		return 0, fmt.Errorf("%w: %dx%d exceeds cell budget %d", ErrResourceExhausted, width, height, d.maxCells)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextBuffer++
	handle := d.nextBuffer
	d.buffers[handle] = &cpuBuffer{
		width:  width,
		height: height,
		cells:  make([]uint8, width*height),
	}
	return handle, nil
}

func (d *CPUDevice) UploadBuffer(handle BufferHandle, data []uint8, width, height int) error {
	d.mu.Lock()
	buf, ok := d.buffers[handle]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, handle)
	}
	if width != buf.width || height != buf.height {
		return fmt.Errorf("substrate: upload dimensions %dx%d do not match buffer %dx%d", width, height, buf.width, buf.height)
	}
	if len(data) != width*height {
		return fmt.Errorf("substrate: upload data length %d, want %d", len(data), width*height)
	}
	copy(buf.cells, data)
	return nil
}

func (d *CPUDevice) DownloadBuffer(handle BufferHandle, width, height int) ([]uint8, error) {
	d.mu.Lock()
	buf, ok := d.buffers[handle]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrUnknownHandle, handle)
	}
	if width != buf.width || height != buf.height {
		return nil, fmt.Errorf("substrate: download dimensions %dx%d do not match buffer %dx%d", width, height, buf.width, buf.height)
	}
	out := make([]uint8, len(buf.cells))
	copy(out, buf.cells)
	return out, nil
}

func (d *CPUDevice) CompileKernel(source string) (KernelHandle, error) {
	prog, err := parseKernel(source)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextKernel++
	handle := d.nextKernel
	d.kernels[handle] = prog
	return handle, nil
}

func (d *CPUDevice) Dispatch(kernel KernelHandle, inputs map[string]any, output BufferHandle, width, height int) error {
	d.mu.Lock()
	prog, ok := d.kernels[kernel]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: kernel %d", ErrUnknownHandle, kernel)
	}
	srcHandle, ok := inputs["src"].(BufferHandle)
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("substrate: dispatch requires a \"src\" buffer input")
	}
	src, ok := d.buffers[srcHandle]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, srcHandle)
	}
	dst, ok := d.buffers[output]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, output)
	}
	d.mu.Unlock()

	if srcHandle == output {
		return fmt.Errorf("substrate: dispatch input and output must be distinct buffers")
	}
	if width != src.width || height != src.height || width != dst.width || height != dst.height {
		return fmt.Errorf("substrate: dispatch dimensions %dx%d do not match buffers", width, height)
	}

	workers := d.workers
	if workers > height {
		workers = height
	}
	rowsPer := (height + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		y0 := w * rowsPer
		y1 := y0 + rowsPer
		if y1 > height {
			y1 = height
		}
		if y0 >= y1 {
			break
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			stepRows(prog, src.cells, dst.cells, width, height, y0, y1)
		}(y0, y1)
	}
	wg.Wait()
	return nil
}

func stepRows(prog program, src, dst []uint8, width, height, y0, y1 int) {
	read := func(x, y int) uint8 {
		if x < 0 || y < 0 || x >= width || y >= height {
			return 0
		}
		return src[y*width+x]
	}
	for y := y0; y < y1; y++ {
		for x := 0; x < width; x++ {
			c := src[y*width+x]
			dst[y*width+x] = evalCell(prog, c, x, y, read)
		}
	}
}

func evalCell(prog program, c uint8, x, y int, read func(x, y int) uint8) uint8 {
	for _, br := range prog.branches {
		if br.category != c {
			continue
		}
		for _, cl := range br.clauses {
			matched := true
			for _, t := range cl.terms {
				if read(x+t.dx, y+t.dy) != t.value {
					matched = false
					break
				}
			}
			if matched {
				return cl.outcome
			}
		}
		break
	}
	return c
}

func (d *CPUDevice) ReleaseBuffer(handle BufferHandle) {
	d.mu.Lock()
	delete(d.buffers, handle)
	d.mu.Unlock()
}

func (d *CPUDevice) ReleaseKernel(handle KernelHandle) {
	d.mu.Lock()
	delete(d.kernels, handle)
	d.mu.Unlock()
}
