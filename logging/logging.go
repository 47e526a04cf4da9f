// Package logging builds the zap logger used across zimage: a console core
// teed with a rotating JSON file, with secrets redacted before they are written.
package logging
