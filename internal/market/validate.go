package market

// Pure precondition checks shared by the repositories. They run inside
// a transaction against freshly locked rows, so a nil return means the
// subsequent writes keep the ledger invariants.

// CheckReserve validates a slot reservation of qty units.
func CheckReserve(slot DeliverySlot, stock Stock, qty int) error {
	if qty <= 0 {
		return Validationf("quantity must be positive")
	}
	if !slot.IsAvailable {
		return Validationf("slot %s is not open for booking", slot.ID)
	}
	if remaining := slot.Remaining(); qty > remaining {
		return Conflictf("slot %s has %d units left, requested %d", slot.ID, remaining, qty)
	}
	if stock.Quantity < qty {
		return Conflictf("product %s has %d in stock, requested %d", stock.ProductID, stock.Quantity, qty)
	}
	return nil
}

// CheckSlotCapacity validates a capacity change against current
// reservations and on-hand stock.
func CheckSlotCapacity(slot DeliverySlot, newMax, onHand int) error {
	if newMax < 0 {
		return Validationf("capacity must not be negative")
	}
	if newMax < slot.Reserved {
		return Validationf("capacity %d is below %d already reserved", newMax, slot.Reserved)
	}
	if newMax > onHand {
		return Validationf("capacity %d exceeds %d on hand", newMax, onHand)
	}
	return nil
}

// CheckAddItem validates adding qty units of product to order.
func CheckAddItem(order Order, product Product, stock Stock, qty int) error {
	if qty <= 0 {
		return Validationf("quantity must be positive")
	}
	if !order.Status.Mutable() {
		return Conflictf("order %s is %s and cannot be modified", order.ID, order.Status)
	}
	if !product.IsAvailable {
		return Validationf("product %s is not available", product.ID)
	}
	if qty < product.MinOrderQty {
		return Validationf("product %s requires a minimum of %d units", product.ID, product.MinOrderQty)
	}
	if stock.Quantity < qty {
		return Conflictf("product %s has %d in stock, requested %d", product.ID, stock.Quantity, qty)
	}
	return nil
}

// CheckWithdrawal validates a payout request against the derived
// wallet balance.
func CheckWithdrawal(balanceCents, amountCents int) error {
	if amountCents <= 0 {
		return Validationf("amount must be positive")
	}
	if amountCents > balanceCents {
		return Conflictf("amount %d exceeds wallet balance %d", amountCents, balanceCents)
	}
	return nil
}
