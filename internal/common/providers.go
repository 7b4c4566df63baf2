package common

// Provider name constants for consistent naming across the application
const (
	// ProviderFIRMS is the rate-limit and cache identifier for the FIRMS area API
	ProviderFIRMS = "firms"

	// ProviderBasemap is the rate-limit and cache identifier for basemap tile servers
	ProviderBasemap = "basemap"

	// DisplayNameFIRMS is the human-readable name used in log and summary lines
	DisplayNameFIRMS = "NASA FIRMS"

	// SourceMODISSP is the science-grade MODIS product requested from FIRMS
	SourceMODISSP = "MODIS_SP"

	// ProcessingDelayDays is how far behind real time MODIS_SP data usually lags
	ProcessingDelayDays = 60
)
