package hsa

import "time"

// Directory is one retrieve source (spec.md §3 "Directory record").
type Directory struct {
	Alias         string
	Protocol      string
	URL           string
	HostIndex     int
	Priority      byte
	Disabled      bool
	NextCheckTime time.Time
	RetryBackoff  time.Duration
	Queued        int
}

// Due reports whether the directory's next check has come up.
func (d *Directory) Due(now time.Time) bool {
	return !d.Disabled && !now.Before(d.NextCheckTime)
}

// Reschedule bumps NextCheckTime after a check, applying RetryBackoff if the
// check failed.
func (d *Directory) Reschedule(now time.Time, interval time.Duration, failed bool) {
	if failed && d.RetryBackoff > 0 {
		d.NextCheckTime = now.Add(d.RetryBackoff)
		return
	}
	d.NextCheckTime = now.Add(interval)
}
