// Package errors provides coded, actionable errors for the reactor CLI and
// its configuration loader.
//
// Each error has a unique code (e.g., "R002") that maps to a category, a
// short message and a detailed explanation. Errors can carry the config
// file location they refer to, a hint, and a wrapped cause:
//
//	err := errors.New("R002").
//	    WithLocation("reactor.yaml", 4).
//	    WithSuggestion("Indent nested keys with spaces, not tabs").
//	    Wrap(parseErr)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR R002: Invalid config syntax
//	//
//	//   reactor.yaml:4
//	//
//	//   The configuration file could not be parsed. ...
//	//
//	//   Hint: Indent nested keys with spaces, not tabs
//
// Errors compare equal under errors.Is when their codes match.
package errors
