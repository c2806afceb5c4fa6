// Package config loads reactor configuration from JSON or YAML files.
//
// The format follows the file extension. Every section is optional; missing
// values fall back to the defaults returned by New.
//
// # Configuration File Structure
//
//	runtime:
//	  name: ui
//	  maxCoalescedPasses: 16
//	  maxDispatchDepth: 64
//	  dispatchBudget: 500
//	  dispatchBudgetWindow: 1s
//	log:
//	  level: debug
//	  format: json
//	metrics:
//	  enabled: true
//	  namespace: reactor
//	debug:
//	  addr: localhost:6060
//	  shutdownTimeout: 5s
//	stress:
//	  goroutines: 8
//	  iterations: 1000
//	  timeout: 30s
//	report:
//	  bucket: my-reports
//	  prefix: reactor/
//	  region: us-east-1
//
// # Usage
//
//	cfg, err := config.LoadOptional(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt := reactive.NewRuntime(append(cfg.ToOptions(),
//	    reactive.WithLogger(cfg.NewLogger(os.Stderr)))...)
package config
