package booking

import (
	"sort"

	"github.com/iliyamo/reservation-admin/internal/model"
)

// refunds sums the unrefunded point cost of lines per customer, in order
// of first appearance.
func refunds(lines []model.CancelLine) []model.Refund {
	idx := make(map[string]int)
	var out []model.Refund
	for _, l := range lines {
		if l.Refunded || l.Point == 0 {
			continue
		}
		i, ok := idx[l.ClientID]
		if !ok {
			i = len(out)
			idx[l.ClientID] = i
			out = append(out, model.Refund{AccountID: l.ClientID})
		}
		out[i].Points += l.Point
	}
	return out
}

// lineSlots returns the distinct slots of lines, ascending.
func lineSlots(lines []model.CancelLine) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, l := range lines {
		if !seen[l.SlotID] {
			seen[l.SlotID] = true
			out = append(out, l.SlotID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// unavailability lists the marks freed by canceling lines: for a line of
// item I booked at slot S, (S, I, S) and (N, I, S) for every neighbor N
// of S.  Marks attributed to other source slots are never included.
func unavailability(lines []model.CancelLine, neighbors map[int64][]int64) []model.UnavailabilityMark {
	seen := make(map[model.UnavailabilityMark]bool)
	var out []model.UnavailabilityMark
	add := func(m model.UnavailabilityMark) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, l := range lines {
		add(model.UnavailabilityMark{SlotID: l.SlotID, ItemID: l.ItemID, SourceSlotID: l.SlotID})
		for _, n := range neighbors[l.SlotID] {
			add(model.UnavailabilityMark{SlotID: n, ItemID: l.ItemID, SourceSlotID: l.SlotID})
		}
	}
	return out
}

// orderNotice groups the lines of one order.
type orderNotice struct {
	line  model.CancelLine
	items []int64
}

func groupByOrder(lines []model.CancelLine) []orderNotice {
	idx := make(map[int64]int)
	var out []orderNotice
	for _, l := range lines {
		i, ok := idx[l.OrderID]
		if !ok {
			i = len(out)
			idx[l.OrderID] = i
			out = append(out, orderNotice{line: l})
		}
		out[i].items = append(out[i].items, l.ItemID)
	}
	return out
}

// orderNotices builds one customer notice per order and, when withStaff is
// set, one staff notice per order whose slot has an assignee.
func orderNotices(lines []model.CancelLine, reason string, withStaff bool) []model.Task {
	var tasks []model.Task
	for _, g := range groupByOrder(lines) {
		l := g.line
		tasks = append(tasks, model.NewEmailTask(model.EmailOrderCancelUser, l.ClientEmail, map[string]any{
			"name":     l.ClientName,
			"order_id": l.OrderID,
			"slot_id":  l.SlotID,
			"items":    g.items,
			"reason":   reason,
		}))
		if withStaff && l.StaffID.Valid && l.StaffEmail.Valid {
			tasks = append(tasks, model.NewEmailTask(model.EmailOrderCancelStaff, l.StaffEmail.String, map[string]any{
				"name":     l.StaffName.String,
				"order_id": l.OrderID,
				"slot_id":  l.SlotID,
				"items":    g.items,
				"reason":   reason,
			}))
		}
	}
	return tasks
}

// slotNotices builds one staff notice per canceled slot with an assignee,
// whether or not the slot had bookings.
func slotNotices(slots []model.CanceledSlot, bookings map[int64]int, reason string) []model.Task {
	var tasks []model.Task
	for _, s := range slots {
		if !s.StaffEmail.Valid {
			continue
		}
		tasks = append(tasks, model.NewEmailTask(model.EmailSlotCancelStaff, s.StaffEmail.String, map[string]any{
			"name":     s.StaffName.String,
			"slot_id":  s.SlotID,
			"bookings": bookings[s.SlotID],
			"reason":   reason,
		}))
	}
	return tasks
}
