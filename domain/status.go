package domain

import "time"

// BudgetItemStatus is the lifecycle state of a BudgetItem.
// ACTIVE -> COMPLETED | CANCELED, with PENDING as an alternate initial
// state that may move to ACTIVE.
type BudgetItemStatus string

const (
	BudgetItemPending   BudgetItemStatus = "PENDING"
	BudgetItemActive    BudgetItemStatus = "ACTIVE"
	BudgetItemCompleted BudgetItemStatus = "COMPLETED"
	BudgetItemCanceled  BudgetItemStatus = "CANCELED"
)

// CanTransition reports whether the status state machine permits moving
// from s to next.
func (s BudgetItemStatus) CanTransition(next BudgetItemStatus) bool {
	switch s {
	case BudgetItemPending:
		return next == BudgetItemActive || next == BudgetItemCanceled
	case BudgetItemActive:
		return next == BudgetItemCompleted || next == BudgetItemCanceled
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s BudgetItemStatus) Terminal() bool {
	return s == BudgetItemCompleted || s == BudgetItemCanceled
}

// DisplayStatus is the user-facing tag derived from an item's raw state.
// Centralized here so the derive layer and any server-equivalent logic
// agree.
type DisplayStatus string

const (
	DisplayOverdue   DisplayStatus = "overdue"
	DisplayDueToday  DisplayStatus = "due_today"
	DisplayAutoPay   DisplayStatus = "auto_pay"
	DisplayPending   DisplayStatus = "pending"
	DisplayRecurring DisplayStatus = "recurring"
	DisplayNone      DisplayStatus = ""
)

// DeriveDisplayStatus is a pure function of the item's type, status, due
// date and flags. Precedence: completed/canceled items carry no tag,
// then overdue > due-today > auto-pay > pending > recurring.
func DeriveDisplayStatus(itemType BudgetItemType, status BudgetItemStatus, dueDate *time.Time, isAutoPay, isRecurring bool, now time.Time) DisplayStatus {
	if status.Terminal() {
		return DisplayNone
	}

	if dueDate != nil {
		due := *dueDate
		if dueBefore(due, now) {
			return DisplayOverdue
		}
		if sameDay(due, now) {
			return DisplayDueToday
		}
	}

	if isAutoPay && itemType == BudgetItemExpense {
		return DisplayAutoPay
	}
	if status == BudgetItemPending {
		return DisplayPending
	}
	if isRecurring {
		return DisplayRecurring
	}
	return DisplayNone
}

// IsOverdue reports whether an item with the given due date and status
// is past due at now.
func IsOverdue(status BudgetItemStatus, dueDate *time.Time, now time.Time) bool {
	if status.Terminal() || dueDate == nil {
		return false
	}
	return dueBefore(*dueDate, now)
}

func dueBefore(due, now time.Time) bool {
	dy, dm, dd := due.Date()
	ny, nm, nd := now.Date()
	d := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return d.Before(n)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
