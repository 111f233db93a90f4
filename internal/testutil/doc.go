// Package testutil provides log sources for exercising view folds under
// delayed and failing transports.
package testutil
