// Package handlers holds the HTTP surface: the simplify endpoint, health and
// version checks, and the middleware chain wrapped around them.
package handlers
