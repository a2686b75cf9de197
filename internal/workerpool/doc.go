// Package workerpool fans image inference out over a bounded set of workers.
package workerpool
