// Package mrt defines the data model shared by the collector directory, the
// listing planner and parser, the listing cache and both worker pools.
//
// # Types
//
//	CollectorInfo  a RIS or RouteViews collector and the period it published data
//	ListingEntry   one remote directory listing (collector, month, file types)
//	FileEntry      one archive file discovered in a listing
//	DownloadTask   a FileEntry paired with its resolved target path
//
// File dates are parsed from the "YYYYMMDD.HHMM" token embedded in archive
// names, e.g. updates.20240101.0015.gz or bview.20240101.0000.gz.
package mrt
