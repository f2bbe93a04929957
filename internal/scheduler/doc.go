// Package scheduler persists recurring command invocations and replays them
// through the dispatcher.
//
// Each entry gets one cron entry whose schedule accounts for downtime: a
// missed fire while the process was down is made up once, immediately, and
// the entry then continues every Frequency from that point. Every fire
// records LastRun (and the produced message id) and rewrites the persisted
// document before the next fire can happen.
package scheduler
