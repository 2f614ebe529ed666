// Package cache persists collector directories and parsed listings in a
// local SQLite database so that repeated runs do not refetch archive months
// that can no longer change.
//
// The database is opened for the duration of a single operation. Listings
// for the current month, future months and months that ended less than a
// week ago are always refetched; collector directories expire after a day.
package cache
