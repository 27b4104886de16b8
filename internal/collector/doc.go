// Package collector runs metric groups over day windows and folds their
// fragments into the daily stat store.
//
// A MetricGroup knows how to ask one platform for one slice of a day's
// numbers. Task wraps a group with a valid credential and turns whatever it
// returns into a classified FetchResult. DayLoop walks a sequence of windows
// for one group and one account and owns the retry policy: refresh after an
// unauthorized response, immediate retry of transient failures up to a cap,
// and two consecutive-failure streaks that end the loop early. Runner drives
// bounded date ranges; Walker drives backward history backfill.
//
// Failures never escape a loop. They are logged with account, platform,
// metric and date and summarized in the loop's report.
package collector
