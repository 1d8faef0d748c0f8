package fetch

import (
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSchedule runs job on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week) in the given location.
// Examples: "0 2 * * *" (daily 2am), "0 2 * * 1-5" (weekdays 2am).
// An empty expression disables the job; an invalid one logs and
// disables it rather than crashing the service. Returns whether the
// job was scheduled.
func StartSchedule(name, schedule string, loc *time.Location, job func()) bool {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Printf("%s disabled (no schedule configured)", name)
		return false
	}
	if loc == nil {
		loc = time.UTC
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid %s schedule '%s': %v, job disabled", name, schedule, err)
		return false
	}
	log.Printf("%s scheduled (cron: %s)", name, schedule)

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next %s at %s (in %s)", name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)
			job()
		}
	}()
	return true
}
