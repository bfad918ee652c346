package domain

import "time"

// CartLine stores a product snapshot and quantity within a cart.
type CartLine struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
}

// Subtotal returns unit price multiplied by quantity in minor units.
func (l CartLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Cart is the per-owner basket. Lines keep insertion order and never carry a
// quantity below one; lines are removed instead.
type Cart struct {
	OwnerID   string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCart returns an empty cart owned by ownerID.
func NewCart(ownerID string, now time.Time) Cart {
	return Cart{
		OwnerID:   ownerID,
		Lines:     []CartLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total sums line subtotals.
func (c Cart) Total() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.Subtotal()
	}
	return total
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// ItemCount sums quantities across lines.
func (c Cart) ItemCount() int {
	count := 0
	for _, line := range c.Lines {
		count += line.Quantity
	}
	return count
}

// Line returns the line for productID when present.
func (c Cart) Line(productID string) (CartLine, bool) {
	if idx := c.index(productID); idx >= 0 {
		return c.Lines[idx], true
	}
	return CartLine{}, false
}

// Add accumulates quantity on an existing line or appends a new one. The name
// and price snapshot of an existing line are refreshed.
func (c *Cart) Add(line CartLine, now time.Time) {
	if line.Quantity <= 0 {
		return
	}
	if idx := c.index(line.ProductID); idx >= 0 {
		existing := &c.Lines[idx]
		existing.Quantity += line.Quantity
		if line.Name != "" {
			existing.Name = line.Name
		}
		existing.UnitPrice = line.UnitPrice
	} else {
		c.Lines = append(c.Lines, line)
	}
	c.UpdatedAt = now
}

// Increment adds one to the quantity of productID. Missing products are ignored.
func (c *Cart) Increment(productID string, now time.Time) {
	if idx := c.index(productID); idx >= 0 {
		c.Lines[idx].Quantity++
		c.UpdatedAt = now
	}
}

// Decrement removes one from the quantity of productID and deletes the line at zero.
func (c *Cart) Decrement(productID string, now time.Time) {
	idx := c.index(productID)
	if idx < 0 {
		return
	}
	if c.Lines[idx].Quantity <= 1 {
		c.removeAt(idx)
	} else {
		c.Lines[idx].Quantity--
	}
	c.UpdatedAt = now
}

// Remove deletes the line for productID.
func (c *Cart) Remove(productID string, now time.Time) {
	if idx := c.index(productID); idx >= 0 {
		c.removeAt(idx)
		c.UpdatedAt = now
	}
}

// Clear empties the cart.
func (c *Cart) Clear(now time.Time) {
	c.Lines = []CartLine{}
	c.UpdatedAt = now
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c Cart) Clone() Cart {
	out := c
	out.Lines = make([]CartLine, len(c.Lines))
	copy(out.Lines, c.Lines)
	return out
}

func (c Cart) index(productID string) int {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(idx int) {
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
}
