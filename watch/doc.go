// Package watch keeps businesses in sync with their document directories.
//
// A Watcher listens for file system events in each business's document
// directory and, once a burst of events settles, runs a consistency sync
// for the affected business.
package watch
