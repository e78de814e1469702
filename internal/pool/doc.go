// Package pool owns the lifecycle of downstream tool servers: lazy
// single-flight loading, the consecutive-failure retry cap, eager startup,
// hydration, and the drain sequence on shutdown.
package pool
