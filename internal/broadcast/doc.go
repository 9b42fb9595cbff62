// Package broadcast fans one piece of content out to a filtered audience.
//
// Targeting
//
// Dispatch resolves the recipient set once, before anything is sent, and
// freezes it into the job. Group broadcasts go to active group destinations;
// DM broadcasts go to KOLs that have at least one link with a known Telegram
// user ID. The campaign, met_kpi and not_met_kpi filters narrow either set;
// KPI filters run progress.Compute per KOL and skip KOLs without a quota.
//
// Delivery
//
// A job is processed by one worker, one recipient at a time, with a fixed
// pause between sends. A DM that the provider rejects is retried once in a
// group the KOL belongs to, prefixed with the KOL's mention. Every recipient
// ends up counted as either a success or a failure; the job itself always
// ends in completed.
package broadcast
