// Package httputil provides the JSON response and request helpers shared by
// the ops API handlers.
package httputil
