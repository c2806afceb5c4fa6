package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (R001-R019)
	// ============================================

	"R001": {
		Category: CategoryConfig,
		Message:  "Config file not readable",
		Detail:   "The configuration file exists but could not be read.",
	},
	"R002": {
		Category: CategoryConfig,
		Message:  "Invalid config syntax",
		Detail:   "The configuration file could not be parsed. JSON files must be valid JSON; .yaml and .yml files must be valid YAML.",
	},
	"R003": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A configuration value is out of range or has the wrong form.",
	},
	"R004": {
		Category: CategoryConfig,
		Message:  "Unsupported config format",
		Detail:   "Configuration files must end in .json, .yaml or .yml.",
	},

	// ============================================
	// Runtime Errors (R020-R039)
	// ============================================

	"R020": {
		Category: CategoryRuntime,
		Message:  "Callback cycle detected",
		Detail:   "Callbacks kept re-publishing a cell past the coalesced pass limit. The cycle was broken and the newest value kept.",
	},
	"R021": {
		Category: CategoryRuntime,
		Message:  "Deadlock detected",
		Detail:   "A goroutine tried to wait on or lock a cell it is already holding.",
	},
	"R022": {
		Category: CategoryRuntime,
		Message:  "Cell disconnected",
		Detail:   "Every strong handle to the cell has been released.",
	},

	// ============================================
	// Stress Errors (R040-R059)
	// ============================================

	"R040": {
		Category: CategoryStress,
		Message:  "Stress scenario failed",
		Detail:   "A stress scenario observed behaviour that violates an engine guarantee.",
	},
	"R041": {
		Category: CategoryStress,
		Message:  "Stress run timed out",
		Detail:   "The stress run did not finish within its timeout. A waiter may be blocked forever.",
	},
	"R042": {
		Category: CategoryStress,
		Message:  "Unknown stress scenario",
		Detail:   "The requested scenario name is not registered.",
	},

	// ============================================
	// Report Errors (R060-R079)
	// ============================================

	"R060": {
		Category: CategoryReport,
		Message:  "Report write failed",
		Detail:   "The stress report could not be written to the local directory.",
	},
	"R061": {
		Category: CategoryReport,
		Message:  "Report upload failed",
		Detail:   "The stress report could not be uploaded to S3. Check the bucket name, region and credentials.",
	},

	// ============================================
	// Inspect Server Errors (R080-R099)
	// ============================================

	"R080": {
		Category: CategoryInspect,
		Message:  "Inspect server failed",
		Detail:   "The debug HTTP server stopped with an error.",
	},
	"R081": {
		Category: CategoryInspect,
		Message:  "Address in use",
		Detail:   "The debug server could not listen on the configured address.",
	},

	// ============================================
	// CLI Errors (R100-R119)
	// ============================================

	"R100": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
		Detail:   "A command-line flag has an invalid value.",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
