// Package utils provides utility functions for token estimation, tool call validation,
// and embedded error detection. These primitives enable consumers to make routing
// decisions and validate API interactions without imposing specific patterns.
package utils
