// Package listing plans and parses the monthly directory listings published
// by collectors.
//
// # Layout
//
// RIS publishes ribs and updates in one directory per month:
//
//	https://data.ris.ripe.net/rrc00/2024.01/
//
// RouteViews splits every month into RIBS/ and UPDATES/:
//
//	https://archive.routeviews.org/route-views.flix/bgpdata/2024.01/RIBS/
//	https://archive.routeviews.org/route-views.flix/bgpdata/2024.01/UPDATES/
//
// Plan turns a collector and a time range into these listing URLs; Parse
// extracts the archive links from a fetched listing.
package listing
