package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	enrichmentConcurrency = 8
	unknownHolderName     = "Unknown user"
)

// SessionQuery builds the staff view of a day's bookings.
type SessionQuery struct {
	bookings   BookingStore
	identities IdentityProvider
	facilities FacilityCatalog
	location   *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

// NewSessionQuery constructs a session query. Identity and facility lookups
// are optional and only used for display enrichment.
func NewSessionQuery(bookings BookingStore, identities IdentityProvider, facilities FacilityCatalog, location *time.Location, now func() time.Time) *SessionQuery {
	return NewSessionQueryWithLogger(bookings, identities, facilities, location, now, nil)
}

// NewSessionQueryWithLogger constructs a session query with a specified logger.
func NewSessionQueryWithLogger(bookings BookingStore, identities IdentityProvider, facilities FacilityCatalog, location *time.Location, now func() time.Time, logger *slog.Logger) *SessionQuery {
	if location == nil {
		location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &SessionQuery{
		bookings:   bookings,
		identities: identities,
		facilities: facilities,
		location:   location,
		now:        now,
		logger:     defaultLogger(logger),
	}
}

func (q *SessionQuery) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, q.logger, "SessionQuery", operation, attrs...)
}

// ListToday returns the day's sessions ordered by slot start and reference
// code. Lookup failures fall back to placeholder names.
func (q *SessionQuery) ListToday(ctx context.Context, principal Principal, filter SessionFilter) (list SessionList, err error) {
	if q == nil {
		err = fmt.Errorf("SessionQuery is nil")
		return
	}

	dateLabel := strings.TrimSpace(filter.DateLabel)
	if dateLabel == "" {
		dateLabel = DateLabel(q.now(), q.location)
	}

	logger := q.loggerWith(ctx, "ListToday",
		"principal_id", principal.UserID,
		"date_label", dateLabel,
		"status", string(filter.Status),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list sessions", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "sessions listed", "count", len(list.Sessions))
	}()

	if err = requireStaff(principal); err != nil {
		return
	}

	list = SessionList{
		DateLabel: dateLabel,
		Sessions:  []SessionView{},
		Counts:    make(map[BookingStatus]int, len(AllStatuses)),
	}
	for _, status := range AllStatuses {
		list.Counts[status] = 0
	}
	if q.bookings == nil {
		return
	}

	var bookings []Booking
	bookings, err = q.bookings.ListBookings(ctx, BookingQuery{DateLabel: dateLabel})
	if err != nil {
		err = mapStoreError(err)
		return
	}

	selected := make([]Booking, 0, len(bookings))
	for _, booking := range bookings {
		list.Counts[booking.Status]++
		if filter.Status != "" && booking.Status != filter.Status {
			continue
		}
		selected = append(selected, booking)
	}

	holders, facilities := q.enrich(ctx, logger, selected)

	search := strings.ToLower(strings.TrimSpace(filter.SearchText))
	for _, booking := range selected {
		view := SessionView{
			Booking:      booking,
			StatusLabel:  booking.Status.Label(),
			FacilityName: booking.FacilityID,
			HolderName:   unknownHolderName,
			CheckInCode:  booking.EffectiveCheckInCode(),
		}
		if facility, ok := facilities[booking.FacilityID]; ok {
			view.FacilityName = facility.Name
			view.FacilityLocation = facility.Location
		}
		if holder, ok := holders[booking.UserID]; ok {
			view.HolderName = holder.FullName
			view.HolderExternalID = holder.ExternalID
		}

		if search != "" && !matchesHolder(view, search) {
			continue
		}
		list.Sessions = append(list.Sessions, view)
	}

	sortSessions(list.Sessions)
	return
}

func (q *SessionQuery) enrich(ctx context.Context, logger *slog.Logger, bookings []Booking) (map[string]Identity, map[string]Facility) {
	var (
		mu         sync.Mutex
		holders    = make(map[string]Identity)
		facilities = make(map[string]Facility)
		userIDs    = make(map[string]struct{})
		facIDs     = make(map[string]struct{})
	)
	for _, booking := range bookings {
		userIDs[booking.UserID] = struct{}{}
		facIDs[booking.FacilityID] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichmentConcurrency)

	if q.identities != nil {
		for userID := range userIDs {
			g.Go(func() error {
				identity, err := q.identities.LookupIdentity(gctx, userID)
				if err != nil {
					logger.WarnContext(ctx, "holder lookup failed", "user_id", userID, "error", err)
					return nil
				}
				mu.Lock()
				holders[userID] = identity
				mu.Unlock()
				return nil
			})
		}
	}

	if q.facilities != nil {
		for facilityID := range facIDs {
			g.Go(func() error {
				facility, err := q.facilities.LookupFacility(gctx, facilityID)
				if err != nil {
					logger.WarnContext(ctx, "facility lookup failed", "facility_id", facilityID, "error", err)
					return nil
				}
				mu.Lock()
				facilities[facilityID] = facility
				mu.Unlock()
				return nil
			})
		}
	}

	_ = g.Wait()
	return holders, facilities
}

func matchesHolder(view SessionView, search string) bool {
	if view.HolderName != unknownHolderName && strings.Contains(strings.ToLower(view.HolderName), search) {
		return true
	}
	return view.HolderExternalID != "" && strings.Contains(strings.ToLower(view.HolderExternalID), search)
}

func sortSessions(sessions []SessionView) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].Booking, sessions[j].Booking
		aStart, aOK := slotStart(a.TimeLabel)
		bStart, bOK := slotStart(b.TimeLabel)
		switch {
		case aOK && bOK && !aStart.Equal(bStart):
			return aStart.Before(bStart)
		case aOK != bOK:
			return aOK
		}
		return a.ReferenceCode < b.ReferenceCode
	})
}
