// Package lock provides QueryLock handles that serialize concurrent ivarator
// cache population for one query and term.
//
// Builders only pass the handle through; the scanner acquires it before
// populating a cache directory and releases it when population ends.
//
// Implementations:
//
//   - [Noop]: no coordination (single-process, private cache directories)
//   - [FileLock]: cross-process lock on a local lock file (gofrs/flock)
//   - [DynamoDBLock]: lease lock in a DynamoDB table for shared remote caches
package lock
