package constants

import "time"

// Shared duration vocabulary used by timeouts.
const (
	Duration5Seconds  = 5 * time.Second
	Duration30Seconds = 30 * time.Second

	Duration5Minutes = 5 * time.Minute
)

// Domain-level timeout constants.
const (
	RegistryMetadataTimeout = Duration30Seconds
	RegistryDownloadTimeout = Duration5Minutes
	ConfigStoreBusyTimeout  = Duration5Seconds
)
