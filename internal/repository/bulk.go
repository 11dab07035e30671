package repository

import (
	"encoding/json"
	"fmt"

	"github.com/iliyamo/reservation-admin/internal/model"
)

// Bulk statements bind one array parameter per column and expand them with
// unnest(...), so a statement over N rows keeps a fixed number of
// placeholders. The helpers below split rows into those column arrays.

// markColumns splits unavailability marks into (slotId, itemId, sourceSlotId)
// columns, dropping duplicate triples.
func markColumns(marks []model.UnavailabilityMark) (slots, items, sources []int64) {
	seen := make(map[model.UnavailabilityMark]bool, len(marks))
	for _, m := range marks {
		if seen[m] {
			continue
		}
		seen[m] = true
		slots = append(slots, m.SlotID)
		items = append(items, m.ItemID)
		sources = append(sources, m.SourceSlotID)
	}
	return slots, items, sources
}

// refundColumns splits refunds into (accountId, points) columns, merging
// repeated accounts and skipping zero credits.
func refundColumns(refunds []model.Refund) (accounts []string, points []int64) {
	idx := make(map[string]int, len(refunds))
	for _, r := range refunds {
		if r.Points == 0 {
			continue
		}
		if i, ok := idx[r.AccountID]; ok {
			points[i] += r.Points
			continue
		}
		idx[r.AccountID] = len(accounts)
		accounts = append(accounts, r.AccountID)
		points = append(points, r.Points)
	}
	return accounts, points
}

// taskColumns splits tasks into (type, emailCase, recipientEmail, variables)
// columns; variables are JSON encoded for the jsonb cast.
func taskColumns(tasks []model.Task) (types, cases, recipients, vars []string, err error) {
	for _, t := range tasks {
		v := t.Variables
		if v == nil {
			v = map[string]any{}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode task variables for %s: %w", t.EmailCase, err)
		}
		typ := t.Type
		if typ == "" {
			typ = model.TaskTypeEmail
		}
		types = append(types, typ)
		cases = append(cases, string(t.EmailCase))
		recipients = append(recipients, t.Recipient)
		vars = append(vars, string(b))
	}
	return types, cases, recipients, vars, nil
}
