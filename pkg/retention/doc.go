// Package retention prunes expired quota counters and response cache rows
// on a cron schedule (default "0 3 * * *", UTC). Both stores also expire
// rows on read; pruning only reclaims space.
package retention
