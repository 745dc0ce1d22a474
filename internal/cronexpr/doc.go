// Package cronexpr parses cron schedules and computes their next occurrence.
//
// # Formats
//
//   - 5-field: "min hour dom month dow", e.g. "0 2 * * *".
//   - 6-field with leading seconds: "sec min hour dom month dow", e.g. "0 0 2 * * *".
//   - Descriptors: "@daily", "@hourly", "@weekly", "@monthly", "@yearly", "@every 90m".
//
// Fields accept wildcards, ranges ("1-5"), steps ("*/15", "10-40/10"), lists
// ("1,15") and month/day names. When both day-of-month and day-of-week are
// restricted, a day matches if either one matches.
//
// All computation happens in a single zone: the one passed to Parse, unless the
// expression itself carries a "CRON_TZ=" prefix.
package cronexpr
