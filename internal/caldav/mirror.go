// Package caldav mirrors the merged ledger to a CalDAV calendar (iCloud
// or any standards-compliant server). It is a secondary, best-effort
// target: the Google gateway owns the upsert mapping, while the mirror
// simply writes one .ics resource per ledger entry, keyed by the entry's
// stable UID so rewrites overwrite instead of duplicating.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"queso/internal/models"
)

// basicAuthTransport adds Basic Auth and a stable User-Agent to every
// request.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "queso/1.0")
	return t.Transport.RoundTrip(req)
}

// Mirror writes ledger entries to one CalDAV calendar.
type Mirror struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	endpoint     string
	calendarURL  string
}

// NewMirror connects to the CalDAV endpoint and locates the calendar with
// the given name.
func NewMirror(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*Mirror, error) {
	httpClient := &http.Client{Transport: &basicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	m := &Mirror{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		endpoint:     endpoint,
	}

	calendarURL, err := m.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find caldav calendar %q: %w", calendarName, err)
	}
	m.calendarURL = calendarURL
	logger.Info("Located CalDAV calendar.", "url", calendarURL)
	return m, nil
}

// Push writes every ledger entry to the calendar. Per-item failures are
// logged and counted, not fatal to the mirror pass.
func (m *Mirror) Push(ctx context.Context, items []models.ScheduledItem) (int, error) {
	pushed := 0
	for _, item := range items {
		if err := m.pushItem(ctx, item); err != nil {
			m.logger.Error("Failed to mirror ledger entry", "title", item.Title, "error", err)
			continue
		}
		pushed++
	}
	m.logger.Info("Mirror pass finished.", "pushed", pushed, "total", len(items))
	return pushed, nil
}

func (m *Mirror) pushItem(ctx context.Context, item models.ScheduledItem) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//queso//EN")
	cal.Children = append(cal.Children, m.toVEvent(item))

	uid := itemUID(item)
	resourcePath := path.Join(strings.TrimPrefix(m.calendarURL, m.endpoint), uid+".ics")

	writer, err := m.webdavClient.Create(ctx, resourcePath)
	if err != nil {
		return fmt.Errorf("failed to create caldav resource: %w", err)
	}
	defer writer.Close()

	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

func (m *Mirror) toVEvent(item models.ScheduledItem) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, itemUID(item))
	ve.Props.SetText(ical.PropSummary, item.Title)
	ve.Props.SetText(ical.PropCategories, strings.ToUpper(string(item.Kind)))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, item.When)

	end := item.End
	if end.IsZero() {
		end = item.When.Add(30 * time.Minute)
	}
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end)
	return ve
}

// itemUID is stable per item so a later mirror pass overwrites the same
// resource.
func itemUID(item models.ScheduledItem) string {
	return fmt.Sprintf("%s-%s@queso", item.Kind, item.ID)
}

func (m *Mirror) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := m.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}
	homeSetPath, err := m.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := m.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to list calendars: %w", err)
	}
	for _, cal := range calendars {
		if cal.Name == name {
			return strings.TrimSuffix(m.endpoint, "/") + cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar named %q", name)
}
