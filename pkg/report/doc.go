// Package report stores the results of reactor stress runs.
//
// A Report records each scenario's outcome together with the runtime
// counters at the end of the run. Two stores are provided:
//
//   - FileStore writes <dir>/<name>.json
//   - S3Store uploads s3://<bucket>/<prefix><name>.json
//
// Names must start with a letter or digit and contain only letters, digits,
// dots, dashes and underscores. Name(t) builds the default timestamped name.
package report
