package model

// ItemStatus is the catalog visibility of an item.
type ItemStatus string

const (
	ItemShow    ItemStatus = "show"
	ItemHide    ItemStatus = "hide"
	ItemDeleted ItemStatus = "deleted"
)

// Item mirrors the columns of `item` used by retirement.
type Item struct {
	ID     int64      `db:"id"`     // item.id
	Name   string     `db:"name"`   // item.name
	Point  int64      `db:"point"`  // item.point
	Status ItemStatus `db:"status"` // item.status
}
