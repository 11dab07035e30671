package model

import "time"

// Session is one authenticated (account, device) pairing as stored in the
// `session` table.  At most one row exists per (UserID, DeviceID).
//
// Fields:
//  ID         – 32 random bytes, hex encoded.
//  UserID     – owning account.
//  DeviceID   – plaintext device identity the session is bound to.
//  UserAgent  – last seen user agent.
//  IP         – last seen client address.
//  CreatedAt  – login time; the hard limit is measured from here.
//  LastActive – last rotation; the soft limit is measured from here.
type Session struct {
	ID         string    `db:"id"`         // session.id
	UserID     string    `db:"userId"`     // session.userId
	DeviceID   string    `db:"deviceId"`   // session.deviceId
	UserAgent  string    `db:"userAgent"`  // session.userAgent
	IP         string    `db:"ip"`         // session.ip
	CreatedAt  time.Time `db:"createAt"`   // session.createAt
	LastActive time.Time `db:"lastActive"` // session.lastActive
}

// CacheRecord is the JSON value stored under session:{handle}.  LastActive
// is a unix millisecond timestamp so the record round-trips without time
// zone surprises.
type CacheRecord struct {
	DBSessionID string `json:"dbSessionId"`
	UserID      string `json:"userId"`
	DeviceID    string `json:"deviceId"`
	Role        Role   `json:"role"`
	LastActive  int64  `json:"lastActive"`
}

// LastActiveTime converts the stored millisecond timestamp.
func (r CacheRecord) LastActiveTime() time.Time {
	return time.UnixMilli(r.LastActive)
}
