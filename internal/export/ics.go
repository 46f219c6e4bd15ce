// Package export renders the merged ledger as an iCalendar document so
// the timeline can be imported into any calendar application.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"queso/internal/models"
)

const defaultSlot = 30 * time.Minute

// WriteICS encodes the ledger entries as a VCALENDAR on w.
func WriteICS(w io.Writer, items []models.ScheduledItem) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//queso//EN")

	for _, item := range items {
		cal.Children = append(cal.Children, toVEvent(item))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func toVEvent(item models.ScheduledItem) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%s@queso", item.Kind, item.ID))
	ve.Props.SetText(ical.PropSummary, item.Title)
	ve.Props.SetText(ical.PropCategories, strings.ToUpper(string(item.Kind)))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, item.When)

	end := item.End
	if end.IsZero() {
		end = item.When.Add(defaultSlot)
	}
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end)

	if item.Synced {
		ve.Props.SetText(ical.PropComment, "Synchronized ledger entry")
	}
	return ve
}
