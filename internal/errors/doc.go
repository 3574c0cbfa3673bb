// Package errors provides structured, actionable errors for the sigsync CLI.
//
// Each error has a unique code that maps to a short message, a longer
// explanation and, where one exists, a suggested fix:
//
//	E1xx  configuration (file, environment, validation)
//	E2xx  transport (connect, listen, serve)
//	E3xx  script (load, evaluate)
//
// # Usage
//
//	err := errors.New("E101").
//	    WithDetail("sigsync.yaml: line 3: mapping values are not allowed here").
//	    Wrap(yamlErr)
//
//	errors.PrintError(err)
//	// ERROR E101: Config file could not be parsed
//	//
//	//   sigsync.yaml: line 3: mapping values are not allowed here
//	//
//	//   Hint: Check indentation and quoting in sigsync.yaml.
package errors
