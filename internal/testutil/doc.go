// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing states, tool calls and scripted tools.
// They are not intended for production usage.
package testutil
