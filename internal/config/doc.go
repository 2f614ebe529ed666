// Package config defines configuration for the mrt-downloader CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (MRT_DOWNLOADER_ prefix), optionally from a
//     .env file
//   - YAML configuration file
//
// Flags override the environment, which overrides the file.
//
// # Example
//
//	start: 2024-01-01
//	end: 2024-01-31T23:59
//	output: /data/mrt
//	projects: [ris, routeviews]
//	collectors: [rrc00, route-views2]
//	naming: collector-month
//	workers: 8
//	retry:
//	  max_retries: 4
//	  initial_delay: 2s
package config
