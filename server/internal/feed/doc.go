// Package feed produces the data the hub broadcasts.
//
// Weather generates a short sample weather forecast starting today. Each call
// returns a fresh, independent slice; it has no side effects beyond drawing
// from its random source.
package feed
