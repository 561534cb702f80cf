package capture

import "context"

// Cell is the single-slot ownership cell for the capture handle. The
// camera cannot serve two readers: whoever holds the handle owns the
// device until it is released. A second concurrent acquire fails fast so
// the HTTP layer can reject the extra client.
type Cell struct {
	slot chan *Handle
}

// NewCell creates a cell holding h.
func NewCell(h *Handle) *Cell {
	c := &Cell{slot: make(chan *Handle, 1)}
	c.slot <- h
	return c
}

// TryAcquire takes the handle without blocking. Returns ErrBusy when
// another owner holds it.
func (c *Cell) TryAcquire() (*Handle, error) {
	select {
	case h := <-c.slot:
		return h, nil
	default:
		return nil, ErrBusy
	}
}

// Acquire blocks until the handle is free or ctx is done.
func (c *Cell) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case h := <-c.slot:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns the handle to the cell. Releasing into an occupied
// cell is a double release and panics.
func (c *Cell) Release(h *Handle) {
	select {
	case c.slot <- h:
	default:
		panic("capture: double release of handle cell")
	}
}

// Held reports whether the handle is currently checked out.
func (c *Cell) Held() bool {
	return len(c.slot) == 0
}
